package changeevent

import "testing"

func TestCodec_Parse(t *testing.T) {
	codec := NewCodec("pg")

	tests := []struct {
		name  string
		topic string
		want  Event
	}{
		{
			name:  "full change event",
			topic: "pg/update/projectMembers/id/42",
			want: Event{
				IsRelevant: true,
				Prefix:     "pg",
				Operation:  "update",
				Table:      "projectMembers",
				Column:     "id",
				Value:      "42",
			},
		},
		{
			name:  "missing levels are empty",
			topic: "pg/delete/projects",
			want:  Event{IsRelevant: true, Prefix: "pg", Operation: "delete", Table: "projects"},
		},
		{
			name:  "prefix only",
			topic: "pg",
			want:  Event{IsRelevant: true, Prefix: "pg"},
		},
		{
			name:  "other prefix is irrelevant",
			topic: "sensors/temp/kitchen",
			want:  Event{Prefix: "sensors", Operation: "temp", Table: "kitchen"},
		},
		{
			name:  "prefix is matched exactly",
			topic: "pgx/update/projects/id/1",
			want:  Event{Prefix: "pgx", Operation: "update", Table: "projects", Column: "id", Value: "1"},
		},
		{
			name:  "empty topic",
			topic: "",
			want:  Event{},
		},
		{
			name:  "extra levels ignored",
			topic: "pg/update/projects/id/1/extra/more",
			want:  Event{IsRelevant: true, Prefix: "pg", Operation: "update", Table: "projects", Column: "id", Value: "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codec.Parse(tt.topic); got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestCodec_BuildRoundTrip(t *testing.T) {
	codec := NewCodec("db")

	topic := codec.Build("insert", "tasks", "projectId", "7")
	if topic != "db/insert/tasks/projectId/7" {
		t.Fatalf("Build() = %q", topic)
	}

	ev := codec.Parse(topic)
	if !ev.IsRelevant {
		t.Error("built topic parsed as irrelevant")
	}
	if ev.Topic() != topic {
		t.Errorf("Event.Topic() = %q, want %q", ev.Topic(), topic)
	}
}

func TestNewCodec_DefaultPrefix(t *testing.T) {
	if got := NewCodec("").Prefix; got != DefaultPrefix {
		t.Errorf("NewCodec(\"\").Prefix = %q, want %q", got, DefaultPrefix)
	}
}

func TestCodec_TableFilter(t *testing.T) {
	if got := NewCodec("pg").TableFilter("projects"); got != "pg/+/projects/#" {
		t.Errorf("TableFilter() = %q", got)
	}
}

func TestStorageName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"projectMembers", "project_members"},
		{"createdAt", "created_at"},
		{"userID", "user_id"},
		{"id", "id"},
		{"HTMLParser", "html_parser"},
		{"ProjectMembers", "project_members"},
		{"project_members", "project_members"},
		{"user-id", "user_id"},
		{"version2Name", "version2_name"},
		{"address2", "address2"},
		{"  spaced out ", "spaced_out"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := StorageName(tt.in)
			if got != tt.want {
				t.Errorf("StorageName(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := StorageName(got); again != got {
				t.Errorf("StorageName not idempotent: %q -> %q", got, again)
			}
		})
	}
}
