package marking

import "testing"

func TestExtractGroupAndSubject_TypicalResponse(t *testing.T) {
	raw := []byte("ИКБО-12-23 | Иванов И.И. | Операционные системы | Осенний семестр")

	group, subject := extractGroupAndSubject(raw)
	if group != "ИКБО-12-23" {
		t.Fatalf("group = %q, want ИКБО-12-23", group)
	}
	if subject != "Операционные системы" {
		t.Fatalf("subject = %q, want Операционные системы", subject)
	}
}

func TestExtractGroupAndSubject_TokenExpired(t *testing.T) {
	group, subject := extractGroupAndSubject([]byte("none | none"))
	if group != "" || subject != "" {
		t.Fatalf("expected both empty, got group=%q subject=%q", group, subject)
	}
}

func TestExtractGroupAndSubject_NoGroupStillFindsSubject(t *testing.T) {
	group, subject := extractGroupAndSubject([]byte("Иванов И.И. | Сети и телекоммуникации"))
	if group != "" {
		t.Fatalf("group = %q, want empty", group)
	}
	if subject != "Сети и телекоммуникации" {
		t.Fatalf("subject = %q, want Сети и телекоммуникации", subject)
	}
}

func TestExtractGroupAndSubject_SeasonAndShortTokensFiltered(t *testing.T) {
	group, subject := extractGroupAndSubject([]byte("ИКБО-12-23 | ОС | Весенний семестр"))
	if group != "ИКБО-12-23" {
		t.Fatalf("group = %q, want ИКБО-12-23", group)
	}
	if subject != "" {
		t.Fatalf("subject = %q, want empty (only a short code and a season marker present)", subject)
	}
}
