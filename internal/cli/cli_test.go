package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/config"
	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/store"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
	"github.com/Shauryam-singh/Advance-Attendance/internal/token"
)

func testConfig(t *testing.T) config.App {
	t.Helper()
	dir := t.TempDir()
	return config.App{
		DatabaseURL:     "sqlite://" + filepath.Join(dir, "attendance.db"),
		FreshnessWindow: 300 * time.Second,
		IssueInterval:   5 * time.Minute,
		LectureDuration: 50 * time.Minute,
		TokenDir:        filepath.Join(dir, "tokens"),
		TokenImageSize:  64,
		LogLevel:        "error",
	}
}

func run(t *testing.T, cfg config.App, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(cfg)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func openRepo(t *testing.T, cfg config.App) *attendance.Repository {
	t.Helper()
	db, err := store.NewDB(cfg.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return attendance.NewRepository(db.Client, cfg.LectureDuration)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(config.App{DatabaseURL: "sqlite://x.db"})
	assert.Equal(t, "attendctl", cmd.Use)

	for _, name := range []string{"students", "timetable", "tokens", "scan", "export", "import"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "sqlite://x.db", dbFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, testConfig(t), "", "--format", "xml", "students", "list", "-b", "B1")
	assert.ErrorContains(t, err, "invalid format")
}

func TestStudentsLifecycle(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "", "students", "add", "-b", "B1", "S1", "Alice")
	require.NoError(t, err)
	_, err = run(t, cfg, "", "students", "add", "-b", "B1", "S1", "Alice")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, cfg, "", "students", "rename", "-b", "B1", "S1", "Alicia")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "--format", "json", "students", "list", "-b", "B1")
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			StudentID string `json:"student_id"`
			Name      string `json:"name"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Alicia", resp.Data[0].Name)

	_, err = run(t, cfg, "", "students", "rm", "-b", "B1", "S1")
	require.NoError(t, err)
	_, err = run(t, cfg, "", "students", "rm", "-b", "B1", "S1")
	assert.ErrorIs(t, err, attendance.ErrStudentNotFound)
}

func TestTimetableCommands(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "", "timetable", "add", "-b", "B1", "--day", "mon", "--code", "MA101", "--name", "Math", "--start", "09:00 AM")
	require.NoError(t, err)
	assert.Contains(t, out, "09:00 AM - 09:50 AM")

	_, err = run(t, cfg, "", "timetable", "add", "-b", "B1", "--day", "Monday", "--code", "MA101", "--start", "11:00")
	assert.ErrorIs(t, err, timetable.ErrDuplicateSubject)

	_, err = run(t, cfg, "", "timetable", "add", "-b", "B1", "--code", "PH101", "--start", "10:00", "--end", "09:00")
	assert.ErrorIs(t, err, timetable.ErrInvalidWindow)

	out, err = run(t, cfg, "", "timetable", "list", "-b", "B1")
	require.NoError(t, err)
	assert.Contains(t, out, "MA101")

	_, err = run(t, cfg, "", "timetable", "rm", "-b", "B1", "mon", "MA101")
	require.NoError(t, err)
	out, err = run(t, cfg, "", "timetable", "list", "-b", "B1")
	require.NoError(t, err)
	assert.Contains(t, out, "No lectures scheduled")
}

func TestImportAndIssueTokens(t *testing.T) {
	cfg := testConfig(t)
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
batches:
  - name: B1
    students:
      - {student_id: S1, name: Alice}
      - {student_id: S2, name: Bob}
    timetable:
      - {day: mon, subject_code: MA101, subject_name: Math, start: "09:00 AM"}
`), 0o600))

	out, err := run(t, cfg, "", "import", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 students and 1 lectures")

	out, err = run(t, cfg, "", "import", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped 2 existing students, 1 existing lectures")

	out, err = run(t, cfg, "", "tokens", "issue", "-b", "B1")
	require.NoError(t, err)
	assert.Contains(t, out, "Issued 2 tokens for B1")
	for _, id := range []string{"S1", "S2"} {
		_, err := os.Stat(filepath.Join(cfg.TokenDir, "B1", id+".png"))
		assert.NoError(t, err)
	}
}

func TestScanAndExport(t *testing.T) {
	cfg := testConfig(t)
	repo := openRepo(t, cfg)
	ctx := context.Background()
	_, err := ApplySeed(ctx, repo, Seed{Batches: []SeedBatch{{
		Name: "B1",
		Students: []roster.Student{
			{StudentID: "S1", Name: "Alice"},
			{StudentID: "S2", Name: "Bob"},
		},
	}}})
	require.NoError(t, err)
	// A lecture spanning the whole day keeps the test independent of the clock.
	_, err = repo.AddTimetableEntry(ctx, "B1", timetable.Entry{SubjectCode: "ALL", SubjectName: "All Day", Start: 0, End: 24 * 60})
	require.NoError(t, err)

	now := time.Now()
	s1, err := token.Issue("S1", "Alice", "B1", now)
	require.NoError(t, err)
	stale, err := token.Issue("S2", "Bob", "B1", now.Add(-time.Hour))
	require.NoError(t, err)
	input := strings.Join([]string{s1, s1, stale, "garbage", ""}, "\n")

	out, err := run(t, cfg, input, "--format", "json", "scan", "-b", "B1")
	require.NoError(t, err)
	var resp struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, map[string]int{
		"accepted":              1,
		"duplicate_for_lecture": 1,
		"expired":               1,
		"malformed_payload":     1,
	}, resp.Data)

	out, err = run(t, cfg, "", "export", "-b", "B1")
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"S1", "Alice"}, rows[1][:2])
	assert.Equal(t, []string{"All Day", "B1"}, rows[1][3:])
}

func TestScan_EmptyRoster(t *testing.T) {
	_, err := run(t, testConfig(t), "", "scan", "-b", "B1")
	assert.ErrorIs(t, err, attendance.ErrEmptyRoster)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
