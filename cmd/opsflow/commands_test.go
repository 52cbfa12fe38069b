package main

import (
	"reflect"
	"testing"
)

func TestParseAgentDraft(t *testing.T) {
	draft, err := parseAgentDraft([]string{"--name", " Auditor ", "--role", "compliance", "--capabilities", "audit, report,,"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if draft.Name != "Auditor" || draft.Role != "compliance" {
		t.Fatalf("unexpected draft %+v", draft)
	}
	if !reflect.DeepEqual(draft.Capabilities, []string{"audit", "report"}) {
		t.Fatalf("unexpected capabilities %v", draft.Capabilities)
	}
}

func TestParseAgentDraftRequiresName(t *testing.T) {
	if _, err := parseAgentDraft([]string{"--role", "ops"}); err == nil {
		t.Fatalf("expected missing name to fail")
	}
}
