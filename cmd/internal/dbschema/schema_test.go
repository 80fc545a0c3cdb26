package dbschema

import (
	"strings"
	"testing"
)

func TestDDL_QuotesSchema(t *testing.T) {
	t.Parallel()

	ddl, err := DDL("autotm_it")
	if err != nil {
		t.Fatalf("DDL: %v", err)
	}
	if strings.Contains(ddl, "{{schema}}") {
		t.Fatalf("placeholder left in DDL")
	}
	for _, want := range []string{`"autotm_it".users`, `"autotm_it".otp_codes`, `"autotm_it".audit_log`} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL missing %s", want)
		}
	}
}

func TestDDL_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "1abc", "a-b", `x"; DROP TABLE users; --`} {
		if _, err := DDL(in); err == nil {
			t.Fatalf("DDL(%q): expected error", in)
		}
	}
}

func TestTable(t *testing.T) {
	t.Parallel()

	if got := Table("autotm", "users"); got != `"autotm"."users"` {
		t.Fatalf("Table()=%s", got)
	}
}
