package domain

import "time"

// EnrichmentJob задача на обогащение трека внешним сервисом.
type EnrichmentJob struct {
	ID         string    `json:"job_id"`
	Platform   string    `json:"platform"`
	PlatformID string    `json:"platform_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EnrichmentKey ключ дедупликации задачи.
func (j EnrichmentJob) EnrichmentKey() string {
	return j.Platform + ":" + j.PlatformID
}
