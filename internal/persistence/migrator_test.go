package persistence

import (
	"testing"
	"testing/fstest"

	"TroveLedger/migrations"
)

func TestListMigrationFiles_SortedBySuffix(t *testing.T) {
	files := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1")},
		"000001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":         {Data: []byte("docs")},
	}

	up, err := listMigrationFiles(files, ".up.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(up) != 2 || up[0] != "000001_a.up.sql" || up[1] != "000002_b.up.sql" {
		t.Errorf("up = %v", up)
	}

	down, err := listMigrationFiles(files, ".down.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(down) != 1 {
		t.Errorf("down = %v", down)
	}
}

func TestExtractVersion(t *testing.T) {
	if v := extractVersion("000001_event_log.up.sql"); v != "000001" {
		t.Errorf("version = %q", v)
	}
}

func TestEmbeddedMigrations_Paired(t *testing.T) {
	up, err := listMigrationFiles(migrations.FS, ".up.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	down, err := listMigrationFiles(migrations.FS, ".down.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(up) == 0 || len(up) != len(down) {
		t.Fatalf("up=%v down=%v", up, down)
	}
	for i := range up {
		if extractVersion(up[i]) != extractVersion(down[i]) {
			t.Errorf("unpaired migration %s / %s", up[i], down[i])
		}
	}
}
