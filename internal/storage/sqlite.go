// Package storage persists the knowledge base in SQLite. The engine
// packages stay pure: they consume in-memory snapshots materialized here
// and the store writes metric and archive updates back.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lessonbase/llkb/internal/confidence"
	"github.com/lessonbase/llkb/internal/knowledge"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding lessons, components, and patterns.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "llkb.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies any embedded SQL migration files not yet recorded in
// schema_version, in filename order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions, ascending.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Lessons ---

const lessonColumns = `id, category, scope, trigger_text, pattern, workaround,
	tags, journey_ids, confidence, occurrences, success_rate, last_success,
	history, human_validated, archived`

// SaveLesson validates and upserts a lesson, minting an id when absent.
// The possibly-updated lesson is returned.
func (s *Store) SaveLesson(l knowledge.Lesson) (knowledge.Lesson, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := knowledge.ValidateLesson(l); err != nil {
		return knowledge.Lesson{}, err
	}

	tags, err := json.Marshal(emptyIfNil(l.Tags))
	if err != nil {
		return knowledge.Lesson{}, fmt.Errorf("encoding tags: %w", err)
	}
	journeyIDs, err := json.Marshal(emptyIfNil(l.JourneyIDs))
	if err != nil {
		return knowledge.Lesson{}, fmt.Errorf("encoding journey ids: %w", err)
	}
	history, err := json.Marshal(l.History)
	if err != nil {
		return knowledge.Lesson{}, fmt.Errorf("encoding history: %w", err)
	}
	if l.History == nil {
		history = []byte("[]")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO lessons (`+lessonColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			scope = excluded.scope,
			trigger_text = excluded.trigger_text,
			pattern = excluded.pattern,
			workaround = excluded.workaround,
			tags = excluded.tags,
			journey_ids = excluded.journey_ids,
			confidence = excluded.confidence,
			occurrences = excluded.occurrences,
			success_rate = excluded.success_rate,
			last_success = excluded.last_success,
			history = excluded.history,
			human_validated = excluded.human_validated,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		l.ID, string(l.Category), string(l.Scope), l.Trigger, l.Pattern, l.Workaround,
		string(tags), string(journeyIDs), l.Metrics.Confidence, l.Metrics.Occurrences,
		l.Metrics.SuccessRate, formatTime(l.Metrics.LastSuccess), string(history),
		boolToInt(l.HumanValidated), boolToInt(l.Archived), now, now,
	)
	if err != nil {
		return knowledge.Lesson{}, err
	}
	return l, nil
}

// GetLesson fetches one lesson by id.
func (s *Store) GetLesson(id string) (knowledge.Lesson, error) {
	row := s.db.QueryRow(`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id)
	l, err := scanLesson(row)
	if err == sql.ErrNoRows {
		return knowledge.Lesson{}, ErrNotFound
	}
	return l, err
}

// ListLessons returns lessons ordered by id. Archived lessons are included
// only when requested.
func (s *Store) ListLessons(includeArchived bool) ([]knowledge.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []knowledge.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// ArchiveLesson marks a lesson archived. Records are never deleted.
func (s *Store) ArchiveLesson(id string) error {
	return s.setArchived("lessons", id)
}

// RecordLessonOutcome folds one success/failure observation into a lesson's
// metrics, recomputes its confidence, and appends a history point. The
// updated lesson is returned.
func (s *Store) RecordLessonOutcome(id string, success bool, now time.Time) (knowledge.Lesson, error) {
	l, err := s.GetLesson(id)
	if err != nil {
		return knowledge.Lesson{}, err
	}

	prior := float64(l.Metrics.Occurrences)
	l.Metrics.Occurrences++
	outcome := 0.0
	if success {
		outcome = 1.0
		l.Metrics.LastSuccess = now
	}
	l.Metrics.SuccessRate = (l.Metrics.SuccessRate*prior + outcome) / float64(l.Metrics.Occurrences)

	l.Metrics.Confidence = confidence.Calculate(l, now)
	l.History = confidence.UpdateHistory(l, now)

	return s.SaveLesson(l)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (knowledge.Lesson, error) {
	var l knowledge.Lesson
	var category, scope, tags, journeyIDs, lastSuccess, history string
	var humanValidated, archived int
	err := row.Scan(&l.ID, &category, &scope, &l.Trigger, &l.Pattern, &l.Workaround,
		&tags, &journeyIDs, &l.Metrics.Confidence, &l.Metrics.Occurrences,
		&l.Metrics.SuccessRate, &lastSuccess, &history, &humanValidated, &archived)
	if err != nil {
		return knowledge.Lesson{}, err
	}
	l.Category = knowledge.Category(category)
	l.Scope = knowledge.Scope(scope)
	l.HumanValidated = humanValidated != 0
	l.Archived = archived != 0
	if err := json.Unmarshal([]byte(tags), &l.Tags); err != nil {
		return knowledge.Lesson{}, fmt.Errorf("decoding tags for lesson %s: %w", l.ID, err)
	}
	if err := json.Unmarshal([]byte(journeyIDs), &l.JourneyIDs); err != nil {
		return knowledge.Lesson{}, fmt.Errorf("decoding journey ids for lesson %s: %w", l.ID, err)
	}
	if err := json.Unmarshal([]byte(history), &l.History); err != nil {
		return knowledge.Lesson{}, fmt.Errorf("decoding history for lesson %s: %w", l.ID, err)
	}
	if l.Metrics.LastSuccess, err = parseTime(lastSuccess); err != nil {
		return knowledge.Lesson{}, fmt.Errorf("parsing last_success for lesson %s: %w", l.ID, err)
	}
	return l, nil
}

// --- Components ---

const componentColumns = `id, name, category, scope, description, file_path,
	source_code, success_rate, total_uses, archived`

// SaveComponent validates and upserts a component, minting an id when
// absent. The possibly-updated component is returned.
func (s *Store) SaveComponent(c knowledge.Component) (knowledge.Component, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := knowledge.ValidateComponent(c); err != nil {
		return knowledge.Component{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO components (`+componentColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			scope = excluded.scope,
			description = excluded.description,
			file_path = excluded.file_path,
			source_code = excluded.source_code,
			success_rate = excluded.success_rate,
			total_uses = excluded.total_uses,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, string(c.Category), string(c.Scope), c.Description, c.FilePath,
		c.SourceCode, c.Metrics.SuccessRate, c.Metrics.TotalUses,
		boolToInt(c.Archived), now, now,
	)
	if err != nil {
		return knowledge.Component{}, err
	}
	return c, nil
}

// GetComponent fetches one component by id.
func (s *Store) GetComponent(id string) (knowledge.Component, error) {
	row := s.db.QueryRow(`SELECT `+componentColumns+` FROM components WHERE id = ?`, id)
	c, err := scanComponent(row)
	if err == sql.ErrNoRows {
		return knowledge.Component{}, ErrNotFound
	}
	return c, err
}

// ListComponents returns components ordered by name.
func (s *Store) ListComponents(includeArchived bool) ([]knowledge.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var components []knowledge.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// ArchiveComponent marks a component archived.
func (s *Store) ArchiveComponent(id string) error {
	return s.setArchived("components", id)
}

// RecordComponentUse folds one use into a component's metrics.
func (s *Store) RecordComponentUse(id string, success bool) (knowledge.Component, error) {
	c, err := s.GetComponent(id)
	if err != nil {
		return knowledge.Component{}, err
	}
	prior := float64(c.Metrics.TotalUses)
	c.Metrics.TotalUses++
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	c.Metrics.SuccessRate = (c.Metrics.SuccessRate*prior + outcome) / float64(c.Metrics.TotalUses)
	return s.SaveComponent(c)
}

func scanComponent(row rowScanner) (knowledge.Component, error) {
	var c knowledge.Component
	var category, scope string
	var archived int
	err := row.Scan(&c.ID, &c.Name, &category, &scope, &c.Description, &c.FilePath,
		&c.SourceCode, &c.Metrics.SuccessRate, &c.Metrics.TotalUses, &archived)
	if err != nil {
		return knowledge.Component{}, err
	}
	c.Category = knowledge.Category(category)
	c.Scope = knowledge.Scope(scope)
	c.Archived = archived != 0
	return c, nil
}

// --- Selector and timing patterns ---

// SaveSelectorPattern upserts a selector pattern, minting an id when absent.
func (s *Store) SaveSelectorPattern(p knowledge.SelectorPattern) (knowledge.SelectorPattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	keywords, err := json.Marshal(emptyIfNil(p.Keywords))
	if err != nil {
		return knowledge.SelectorPattern{}, fmt.Errorf("encoding keywords: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO selector_patterns (id, app_id, selector, keywords, confidence, archived)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			app_id = excluded.app_id,
			selector = excluded.selector,
			keywords = excluded.keywords,
			confidence = excluded.confidence,
			archived = excluded.archived`,
		p.ID, p.AppID, p.Selector, string(keywords), p.Confidence, boolToInt(p.Archived),
	)
	if err != nil {
		return knowledge.SelectorPattern{}, err
	}
	return p, nil
}

// ListSelectorPatterns returns selector patterns ordered by confidence
// descending.
func (s *Store) ListSelectorPatterns() ([]knowledge.SelectorPattern, error) {
	rows, err := s.db.Query(`SELECT id, app_id, selector, keywords, confidence, archived
		FROM selector_patterns ORDER BY confidence DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []knowledge.SelectorPattern
	for rows.Next() {
		var p knowledge.SelectorPattern
		var keywords string
		var archived int
		if err := rows.Scan(&p.ID, &p.AppID, &p.Selector, &keywords, &p.Confidence, &archived); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords for selector pattern %s: %w", p.ID, err)
		}
		p.Archived = archived != 0
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// SaveTimingPattern upserts a timing pattern, minting an id when absent.
func (s *Store) SaveTimingPattern(p knowledge.TimingPattern) (knowledge.TimingPattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	context, err := json.Marshal(emptyIfNil(p.Context))
	if err != nil {
		return knowledge.TimingPattern{}, fmt.Errorf("encoding context: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO timing_patterns (id, context, recommendation, confidence, archived)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context = excluded.context,
			recommendation = excluded.recommendation,
			confidence = excluded.confidence,
			archived = excluded.archived`,
		p.ID, string(context), p.Recommendation, p.Confidence, boolToInt(p.Archived),
	)
	if err != nil {
		return knowledge.TimingPattern{}, err
	}
	return p, nil
}

// ListTimingPatterns returns timing patterns ordered by confidence
// descending.
func (s *Store) ListTimingPatterns() ([]knowledge.TimingPattern, error) {
	rows, err := s.db.Query(`SELECT id, context, recommendation, confidence, archived
		FROM timing_patterns ORDER BY confidence DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []knowledge.TimingPattern
	for rows.Next() {
		var p knowledge.TimingPattern
		var context string
		var archived int
		if err := rows.Scan(&p.ID, &context, &p.Recommendation, &p.Confidence, &archived); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(context), &p.Context); err != nil {
			return nil, fmt.Errorf("decoding context for timing pattern %s: %w", p.ID, err)
		}
		p.Archived = archived != 0
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// --- App profiles ---

// SaveAppProfile upserts an app profile, minting an id when absent.
func (s *Store) SaveAppProfile(p knowledge.AppProfile) (knowledge.AppProfile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	keywords, err := json.Marshal(emptyIfNil(p.Keywords))
	if err != nil {
		return knowledge.AppProfile{}, fmt.Errorf("encoding keywords: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO app_profiles (id, name, framework, keywords)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			framework = excluded.framework,
			keywords = excluded.keywords`,
		p.ID, p.Name, p.Framework, string(keywords),
	)
	if err != nil {
		return knowledge.AppProfile{}, err
	}
	return p, nil
}

// GetAppProfile returns the profile for an app id, or ErrNotFound.
func (s *Store) GetAppProfile(id string) (knowledge.AppProfile, error) {
	var p knowledge.AppProfile
	var keywords string
	err := s.db.QueryRow(`SELECT id, name, framework, keywords FROM app_profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Framework, &keywords)
	if err == sql.ErrNoRows {
		return knowledge.AppProfile{}, ErrNotFound
	}
	if err != nil {
		return knowledge.AppProfile{}, err
	}
	if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
		return knowledge.AppProfile{}, fmt.Errorf("decoding keywords for profile %s: %w", p.ID, err)
	}
	return p, nil
}

// DefaultAppProfile returns the first stored profile, or nil when none
// exists. Single-app installations keep exactly one.
func (s *Store) DefaultAppProfile() (*knowledge.AppProfile, error) {
	var p knowledge.AppProfile
	var keywords string
	err := s.db.QueryRow(`SELECT id, name, framework, keywords FROM app_profiles ORDER BY id LIMIT 1`).
		Scan(&p.ID, &p.Name, &p.Framework, &keywords)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
		return nil, fmt.Errorf("decoding keywords for profile %s: %w", p.ID, err)
	}
	return &p, nil
}

// --- Snapshot ---

// Snapshot is the in-memory view the engine operates on. It is taken once
// per query; the engine never reads the database mid-computation.
type Snapshot struct {
	Lessons          []knowledge.Lesson
	Components       []knowledge.Component
	SelectorPatterns []knowledge.SelectorPattern
	TimingPatterns   []knowledge.TimingPattern
	Profile          *knowledge.AppProfile
}

// LoadSnapshot materializes everything the engine needs, excluding
// archived records.
func (s *Store) LoadSnapshot() (Snapshot, error) {
	lessons, err := s.ListLessons(false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading lessons: %w", err)
	}
	components, err := s.ListComponents(false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading components: %w", err)
	}
	selectors, err := s.ListSelectorPatterns()
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading selector patterns: %w", err)
	}
	timings, err := s.ListTimingPatterns()
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading timing patterns: %w", err)
	}
	profile, err := s.DefaultAppProfile()
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading app profile: %w", err)
	}
	return Snapshot{
		Lessons:          lessons,
		Components:       components,
		SelectorPatterns: selectors,
		TimingPatterns:   timings,
		Profile:          profile,
	}, nil
}

// --- helpers ---

func (s *Store) setArchived(table, id string) error {
	res, err := s.db.Exec(`UPDATE `+table+` SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
