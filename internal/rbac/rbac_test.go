package rbac

import "testing"

func TestCan(t *testing.T) {
	tests := []struct {
		name   string
		grants Grants
		action Action
		want   bool
	}{
		{"plain session can read", Grants{}, ActionRead, true},
		{"plain session cannot write", Grants{}, ActionWrite, false},
		{"admin can write", Grants{Admin: true}, ActionWrite, true},
		{"content ops can write", Grants{ContentOps: true}, ActionWrite, true},
		{"both claims can write", Grants{Admin: true, ContentOps: true}, ActionWrite, true},
		{"unknown action denied", Grants{Admin: true}, Action("purge"), false},
	}
	for _, tt := range tests {
		if got := Can(tt.grants, tt.action); got != tt.want {
			t.Errorf("%s: Can() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
