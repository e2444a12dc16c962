package cmd

import "testing"

func TestSchemaStateString(t *testing.T) {
	tests := []struct {
		name string
		st   schemaState
		want string
	}{
		{"fresh database", schemaState{Latest: 1}, "not migrated, 1 pending (run: aicib migrate up)"},
		{"up to date", schemaState{Version: 1, Latest: 1, Migrated: true}, "v1 (up to date)"},
		{"behind", schemaState{Version: 1, Latest: 3, Migrated: true}, "v1, 2 pending (run: aicib migrate up)"},
		{"dirty", schemaState{Version: 2, Latest: 2, Migrated: true, Dirty: true}, "v2 DIRTY (fix the failed migration, then: aicib migrate force 1)"},
		{"ahead of binary", schemaState{Version: 4, Latest: 3, Migrated: true}, "v4 (up to date)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
