// Command chatgram-events prints the audit trail recorded in the chatgram
// events table as a tree.
package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/stupiduntilnot/chatgram/internal/db"
)

// Event represents a row from the events table.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

type options struct {
	dbPath    string
	eventID   int64
	sessionID string
	maxDepth  int
	jsonOut   bool
	noPayload bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "chatgram-events:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("chatgram-events", pflag.ContinueOnError)
	fs.StringVar(&o.dbPath, "db", envOrDefault("CHATGRAM_DB_PATH", "chatgram.db"), "SQLite database path")
	fs.Int64Var(&o.eventID, "id", 0, "show the subtree of one event")
	fs.StringVar(&o.sessionID, "session", "", "show every turn of one session")
	fs.IntVarP(&o.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	fs.BoolVar(&o.jsonOut, "json", false, "output JSON")
	fs.BoolVar(&o.noPayload, "no-payload", false, "hide payload details")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.eventID != 0 && o.sessionID != "" {
		return options{}, errors.New("--id and --session are mutually exclusive")
	}
	return o, nil
}

func run(args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	database, err := sql.Open("sqlite3", "file:"+o.dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := database.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	roots, err := selectRoots(database, o)
	if err != nil {
		return err
	}

	var trees []*Event
	for _, id := range roots {
		events, err := querySubtree(database, id)
		if err != nil {
			return fmt.Errorf("query subtree %d: %w", id, err)
		}
		root := buildTree(events, id)
		if root == nil {
			return fmt.Errorf("event %d not found", id)
		}
		trees = append(trees, root)
	}

	r := renderer{w: stdout, maxDepth: o.maxDepth, noPayload: o.noPayload}
	if o.jsonOut {
		return r.json(trees)
	}
	for _, t := range trees {
		r.tree(t, "", true, 1)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func selectRoots(database *sql.DB, o options) ([]int64, error) {
	switch {
	case o.eventID != 0:
		return []int64{o.eventID}, nil
	case o.sessionID != "":
		ids, err := sessionTurns(database, o.sessionID)
		if err != nil {
			return nil, fmt.Errorf("find turns: %w", err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no turns recorded for session %s", o.sessionID)
		}
		return ids, nil
	default:
		id, err := latestRoot(database)
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	}
}

// latestRoot returns the newest process.started event, or the newest
// turn.started event when no process has been recorded.
func latestRoot(database *sql.DB) (int64, error) {
	for _, eventType := range []string{db.EventProcessStarted, db.EventTurnStarted} {
		var id int64
		err := database.QueryRow(
			`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`, eventType,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("find %s: %w", eventType, err)
		}
	}
	return 0, errors.New("no process.started or turn.started event found")
}

// sessionTurns returns the turn.started events of a session in order.
func sessionTurns(database *sql.DB, sessionID string) ([]int64, error) {
	rows, err := database.Query(
		`SELECT id FROM events WHERE event_type = ?
		 AND json_extract(payload, '$.session_id') = ?
		 ORDER BY id ASC`,
		db.EventTurnStarted, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// querySubtree returns all events below and including rootID.
func querySubtree(database *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// buildTree links a flat event list into a tree and returns the node for
// rootID. Children are ordered by id.
func buildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if !ev.ParentID.Valid || ev.ParentID.Int64 == ev.ID || ev.ID == rootID {
			continue
		}
		if parent, ok := byID[ev.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, ev)
		}
	}
	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool {
			return ev.Children[i].ID < ev.Children[j].ID
		})
	}
	return byID[rootID]
}

type renderer struct {
	w         io.Writer
	maxDepth  int
	noPayload bool
}

func (r renderer) tree(ev *Event, prefix string, isLast bool, depth int) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, r.noPayload)
	if depth == 1 {
		fmt.Fprintln(r.w, line)
	} else {
		fmt.Fprintln(r.w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if r.maxDepth > 0 && depth >= r.maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(r.w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		r.tree(child, childPrefix, i == len(ev.Children)-1, depth+1)
	}
}

// formatEvent renders "[id] timestamp  event_type  key=value ...".
func formatEvent(ev *Event, noPayload bool) string {
	var b strings.Builder
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, ts, ev.EventType)

	if m := payloadMap(ev, noPayload); m != nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s=%s", k, formatValue(m[k]))
		}
	}
	return b.String()
}

func payloadMap(ev *Event, noPayload bool) map[string]any {
	if noPayload || !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue renders a payload value, quoting and truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func (r renderer) toJSON(ev *Event, depth int) jsonEvent {
	je := jsonEvent{ID: ev.ID, Timestamp: ev.Timestamp, EventType: ev.EventType}
	if m := payloadMap(ev, r.noPayload); m != nil {
		je.Payload = m
	}
	if r.maxDepth > 0 && depth >= r.maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, r.toJSON(child, depth+1))
	}
	return je
}

// json writes one object for a single tree and an array for several.
func (r renderer) json(trees []*Event) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if len(trees) == 1 {
		return enc.Encode(r.toJSON(trees[0], 1))
	}
	out := make([]jsonEvent, 0, len(trees))
	for _, t := range trees {
		out = append(out, r.toJSON(t, 1))
	}
	return enc.Encode(out)
}
