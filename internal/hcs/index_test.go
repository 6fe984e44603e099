package hcs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeIndex(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fields.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return path
}

const indexHeader = "well,field,time,channel,z,y,x,path\n"

func TestLoadFieldIndex(t *testing.T) {
	path := writeIndex(t, indexHeader+
		"A01,0,0,0,0,0,0,images/a01_f0.tif\n"+
		"A01,1,0,0,0,0,512,/data/a01_f1.tif\n"+
		"B02,0,0,1,2,10,20,\n")
	records, err := LoadFieldIndex(path)
	if err != nil {
		t.Fatalf("LoadFieldIndex: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	want := filepath.Join(filepath.Dir(path), "images", "a01_f0.tif")
	if records[0].Path != want {
		t.Fatalf("relative path not resolved: %s", records[0].Path)
	}
	if records[1].Path != "/data/a01_f1.tif" {
		t.Fatalf("absolute path must stay untouched: %s", records[1].Path)
	}
	if records[2].Path != "" {
		t.Fatalf("empty path must stay empty: %q", records[2].Path)
	}

	rec := records[2]
	if rec.Well != "B02" || rec.Channel != 1 || rec.Z != 2 || rec.Y != 10 || rec.X != 20 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestLoadFieldIndexRejectsBadHeader(t *testing.T) {
	path := writeIndex(t, "well,field,time,channel,z,row,col,path\nA01,0,0,0,0,0,0,a.tif\n")
	if _, err := LoadFieldIndex(path); err == nil {
		t.Fatal("expected error for renamed columns")
	}
	path = writeIndex(t, "well,field,time\nA01,0,0\n")
	if _, err := LoadFieldIndex(path); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestLoadFieldIndexRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"non-integer field": "A01,one,0,0,0,0,0,a.tif\n",
		"negative position": "A01,0,0,0,0,-5,0,a.tif\n",
		"empty well":        ",0,0,0,0,0,0,a.tif\n",
	}
	for name, row := range cases {
		path := writeIndex(t, indexHeader+row)
		if _, err := LoadFieldIndex(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFieldIndexEmpty(t *testing.T) {
	path := writeIndex(t, indexHeader)
	if _, err := LoadFieldIndex(path); err == nil {
		t.Fatal("expected error for an index without records")
	}
	if _, err := LoadFieldIndex(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatal("expected error for a missing index file")
	}
}

func TestGroupByWell(t *testing.T) {
	records := []FieldRecord{
		{Well: "B02"}, {Well: "A01"}, {Well: "B02"}, {Well: "C03"},
	}
	order, byWell := groupByWell(records)
	if strings.Join(order, ",") != "B02,A01,C03" {
		t.Fatalf("first-seen order not preserved: %v", order)
	}
	if len(byWell["B02"]) != 2 {
		t.Fatalf("expected 2 records for B02, got %d", len(byWell["B02"]))
	}
}
