package db

const schemaSQL = `
-- ===========================================================================
-- SCHEDULES (local cache of the shared schedule collection)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS schedules (
  schedule_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  schedule_type TEXT NOT NULL DEFAULT 'FIXED',
  time TEXT NOT NULL,
  interval_minutes INTEGER,
  days TEXT NOT NULL DEFAULT '[]',
  sound_ids TEXT NOT NULL DEFAULT '"random"',
  playback_count INTEGER NOT NULL DEFAULT 1,
  is_active INTEGER NOT NULL DEFAULT 1,
  last_run_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

-- ===========================================================================
-- SOUNDS (clip library metadata)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS sounds (
  sound_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  file_name TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  tag TEXT NOT NULL DEFAULT 'other',
  duration_seconds REAL NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

-- ===========================================================================
-- DEVICE STATE (singleton row, id = 'main')
-- ===========================================================================

CREATE TABLE IF NOT EXISTS device_state (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'SLEEPING',
  battery_level INTEGER NOT NULL DEFAULT 84,
  last_wake_ms INTEGER NOT NULL DEFAULT 0,
  last_sound_played TEXT NOT NULL DEFAULT 'None',
  last_sync_ms INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);

-- ===========================================================================
-- ARM FLAGS (last known mainSwitch / devicePower, id = 'main')
-- ===========================================================================

CREATE TABLE IF NOT EXISTS arm_flags (
  id TEXT PRIMARY KEY,
  main_switch INTEGER NOT NULL DEFAULT 0,
  device_power INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);

-- ===========================================================================
-- PLAYBACK LOGS (append-only activity history)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS playback_logs (
  log_id TEXT PRIMARY KEY,
  timestamp_ms INTEGER NOT NULL,
  sound_name TEXT NOT NULL,
  trigger_type TEXT NOT NULL,
  status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_playback_logs_timestamp ON playback_logs(timestamp_ms);
`
