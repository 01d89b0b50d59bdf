package store

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS mission_summaries (
    mission_id            TEXT PRIMARY KEY,
    name                  TEXT,
    outcome               TEXT NOT NULL,
    reason                TEXT,
    final_state           TEXT NOT NULL,
    started_at            TEXT NOT NULL,
    ended_at              TEXT NOT NULL,
    duration_seconds      REAL NOT NULL,
    waypoints_visited     INTEGER NOT NULL,
    waypoints_total       INTEGER NOT NULL,
    min_battery_observed  REAL NOT NULL,
    telemetry_point_count INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mission_summaries_ended_at
    ON mission_summaries (ended_at);`

	insertSummarySQL = `
INSERT INTO mission_summaries (mission_id,
                               name,
                               outcome,
                               reason,
                               final_state,
                               started_at,
                               ended_at,
                               duration_seconds,
                               waypoints_visited,
                               waypoints_total,
                               min_battery_observed,
                               telemetry_point_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSummaryColumns = `
SELECT
    mission_id,
    name,
    outcome,
    reason,
    final_state,
    started_at,
    ended_at,
    duration_seconds,
    waypoints_visited,
    waypoints_total,
    min_battery_observed,
    telemetry_point_count
FROM mission_summaries`

	selectSummarySQL = selectSummaryColumns + `
WHERE
    mission_id = ?`

	selectSummariesSQL = selectSummaryColumns + `
ORDER BY ended_at DESC, rowid DESC
LIMIT ?`
)
