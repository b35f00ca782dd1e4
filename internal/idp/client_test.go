package idp

import "testing"

func TestDBRolesFiltersByMysqlPrefix(t *testing.T) {
	groups := []Group{
		{Path: "/mysql_readers"},
		{Path: "/other_group"},
		{Path: "/mysql_writers"},
	}
	roles := DBRoles(groups)
	if len(roles) != 2 {
		t.Fatalf("DBRoles returned %d roles, want 2: %v", len(roles), roles)
	}
	if roles[0] != "readers" || roles[1] != "writers" {
		t.Fatalf("DBRoles = %v, want [readers writers]", roles)
	}
}

func TestDBRolesEmptyWhenNoMatch(t *testing.T) {
	roles := DBRoles([]Group{{Path: "/unrelated"}})
	if len(roles) != 0 {
		t.Fatalf("DBRoles = %v, want empty", roles)
	}
}
