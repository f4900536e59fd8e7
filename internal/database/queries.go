package database

// Delivery log queries
const (
	InsertDeliveryQuery = `
		INSERT INTO deliveries (
			id, target_type, chat_id, status, failure_reason,
			fallback_results, received_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			fallback_results = excluded.fallback_results,
			completed_at = excluded.completed_at
	`

	SelectDeliveryByIDQuery = `
		SELECT id, target_type, chat_id, status, failure_reason,
		       fallback_results, received_at, completed_at
		FROM deliveries
		WHERE id = ?
	`

	SelectRecentDeliveriesQuery = `
		SELECT id, target_type, chat_id, status, failure_reason,
		       fallback_results, received_at, completed_at
		FROM deliveries
		ORDER BY completed_at DESC
		LIMIT ?
	`

	CountDeliveriesByStatusQuery = `
		SELECT status, COUNT(*)
		FROM deliveries
		GROUP BY status
	`

	DeleteDeliveriesBeforeQuery = `
		DELETE FROM deliveries
		WHERE completed_at < ?
	`
)
