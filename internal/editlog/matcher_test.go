package editlog

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestMatcher_Match(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		name       string
		line       string
		wantMatch  bool
		wantItemID string
		wantTime   time.Time
		wantEditor string
	}{
		{
			name:       "DSpace 7 line with editor",
			line:       "2026-02-18 11:40:01,532 INFO  7b1e6d2c-0d3f-4d8a-9f7e-2a1b3c4d5e6f 10.0.0.5 org.dspace.content.ItemServiceImpl @ editor@example.org::update_item:item_id=0f8b4c1e-2a3d-4e5f-8a9b-0c1d2e3f4a5b",
			wantMatch:  true,
			wantItemID: "0f8b4c1e-2a3d-4e5f-8a9b-0c1d2e3f4a5b",
			wantTime:   time.Date(2026, 2, 18, 11, 40, 1, 0, time.UTC),
			wantEditor: "editor@example.org",
		},
		{
			name:       "short form without editor",
			line:       "2026-02-18 11:40:01 ... ItemServiceImpl ::update_item:item_id=1234 ...",
			wantMatch:  true,
			wantItemID: "1234",
			wantTime:   time.Date(2026, 2, 18, 11, 40, 1, 0, time.UTC),
		},
		{
			name:       "item id followed by more fields",
			line:       "2026-02-18 11:40:01,000 INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=42:handle=123456789/7",
			wantMatch:  true,
			wantItemID: "42",
			wantTime:   time.Date(2026, 2, 18, 11, 40, 1, 0, time.UTC),
			wantEditor: "a@b.c",
		},
		{
			name:       "item id is not the first field",
			line:       "2026-02-18 11:40:01 INFO ItemServiceImpl @ a@b.c::update_item:session=xyz:item_id=77",
			wantMatch:  true,
			wantItemID: "77",
			wantTime:   time.Date(2026, 2, 18, 11, 40, 1, 0, time.UTC),
			wantEditor: "a@b.c",
		},
		{
			name: "different operation",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ a@b.c::create_item:item_id=1",
		},
		{
			name: "different service",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.CollectionServiceImpl @ a@b.c::update_item:item_id=1",
		},
		{
			name: "service token is only a suffix of another name",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.MyItemServiceImpl @ a@b.c::update_item:item_id=1",
		},
		{
			name: "case differs",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.itemserviceimpl @ a@b.c::UPDATE_ITEM:item_id=1",
		},
		{
			name: "missing item id",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:handle=1",
		},
		{
			name: "empty item id",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=",
		},
		{
			name: "item_id is part of a longer key",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:parent_item_id=5",
		},
		{
			name: "operation before service",
			line: "2026-02-18 11:40:01,532 INFO ::update_item:item_id=1 ItemServiceImpl",
		},
		{
			name: "no leading timestamp",
			line: "INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=1",
		},
		{
			name: "timestamp not at column zero",
			line: " 2026-02-18 11:40:01 org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=1",
		},
		{
			name: "malformed timestamp",
			line: "2026-13-18 11:40:01 org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=1",
		},
		{
			name: "timestamp glued to text",
			line: "2026-02-18 11:40:01X org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=1",
		},
		{
			name: "item id with invalid utf-8",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=12\xfe34",
		},
		{
			name: "item id with NUL",
			line: "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ a@b.c::update_item:item_id=12\x0034",
		},
		{
			name:       "editor with invalid bytes is cleaned",
			line:       "2026-02-18 11:40:01,532 INFO org.dspace.content.ItemServiceImpl @ us\xffer\x00@b.c::update_item:item_id=1234",
			wantMatch:  true,
			wantItemID: "1234",
			wantTime:   time.Date(2026, 2, 18, 11, 40, 1, 0, time.UTC),
			wantEditor: "us\uFFFDer@b.c",
		},
		{
			name: "empty line",
			line: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match(tt.line)
			if ok != tt.wantMatch {
				t.Fatalf("Match() ok = %v, want %v", ok, tt.wantMatch)
			}
			if !ok {
				return
			}
			if got.ItemID != tt.wantItemID {
				t.Errorf("ItemID = %q, want %q", got.ItemID, tt.wantItemID)
			}
			if !got.EventTime.Equal(tt.wantTime) {
				t.Errorf("EventTime = %v, want %v", got.EventTime, tt.wantTime)
			}
			if got.Editor != tt.wantEditor {
				t.Errorf("Editor = %q, want %q", got.Editor, tt.wantEditor)
			}
		})
	}
}

func TestMatcher_WithLocation(t *testing.T) {
	kyiv := time.FixedZone("EET", 2*60*60)
	m := NewMatcher(WithLocation(kyiv))

	got, ok := m.Match("2026-02-18 11:40:01 INFO ItemServiceImpl ::update_item:item_id=1")
	if !ok {
		t.Fatal("expected match")
	}

	want := time.Date(2026, 2, 18, 9, 40, 1, 0, time.UTC)
	if !got.EventTime.Equal(want) || got.EventTime.Location() != time.UTC {
		t.Errorf("EventTime = %v, want %v in UTC", got.EventTime, want)
	}
}

func TestMatcher_WithTokens(t *testing.T) {
	m := NewMatcher(WithTokens("CollectionServiceImpl", "update_collection"))

	if _, ok := m.Match("2026-02-18 11:40:01 INFO CollectionServiceImpl ::update_collection:item_id=9"); !ok {
		t.Error("expected custom tokens to match")
	}
	if _, ok := m.Match("2026-02-18 11:40:01 INFO ItemServiceImpl ::update_item:item_id=9"); ok {
		t.Error("default tokens must not match after override")
	}
}

func TestMatcher_MatchedFieldsAreStorableText(t *testing.T) {
	m := NewMatcher()

	lines := []string{
		"2026-02-18 11:40:01 INFO ItemServiceImpl @ \xc3\x28bad::update_item:item_id=5",
		"2026-02-18 11:40:01 INFO ItemServiceImpl @ a\x00b::update_item:item_id=6:handle=\xff",
		"2026-02-18 11:40:01 INFO ItemServiceImpl @ \x00::update_item:item_id=7",
	}
	for _, line := range lines {
		got, ok := m.Match(line)
		if !ok {
			t.Fatalf("expected match for %q", line)
		}
		for _, v := range []string{got.ItemID, got.Editor} {
			if !utf8.ValidString(v) || strings.ContainsRune(v, 0) {
				t.Errorf("field %q of %q is not storable text", v, line)
			}
		}
	}
}
