package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mailflow/internal/platform/models"
)

type CronLogRepository struct {
	db *sql.DB
}

func NewCronLogRepository(db *sql.DB) *CronLogRepository {
	return &CronLogRepository{db: db}
}

func (r *CronLogRepository) Start(jobName string) (*models.CronLog, error) {
	entry := &models.CronLog{
		ID:        "cron_" + uuid.NewString(),
		JobName:   jobName,
		Status:    "started",
		StartedAt: time.Now().Unix(),
	}
	_, err := r.db.Exec(`
		INSERT INTO cron_logs (id, job_name, status, details, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.JobName, entry.Status, entry.Details, entry.StartedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *CronLogRepository) Finish(id, status, details string) error {
	_, err := r.db.Exec(`
		UPDATE cron_logs SET status = ?, details = ?, finished_at = ? WHERE id = ?
	`, status, details, time.Now().Unix(), id)
	return err
}

func (r *CronLogRepository) Recent(jobName string, limit int) ([]*models.CronLog, error) {
	rows, err := r.db.Query(`
		SELECT id, job_name, status, details, started_at, finished_at
		FROM cron_logs WHERE job_name = ? ORDER BY started_at DESC LIMIT ?
	`, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.CronLog
	for rows.Next() {
		entry := &models.CronLog{}
		if err := rows.Scan(&entry.ID, &entry.JobName, &entry.Status, &entry.Details, &entry.StartedAt, &entry.FinishedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
