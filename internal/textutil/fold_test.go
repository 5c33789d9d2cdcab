package textutil

import "testing"

func TestFold(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Licitação  Nº 12", want: "licitacao nº 12"},
		{in: "PREGÃO ELETRÔNICO", want: "pregao eletronico"},
		{in: "  Contratação\n de serviço", want: "contratacao de servico"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		if got := Fold(tc.in); got != tc.want {
			t.Fatalf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("aquisição", 4); got != "aqui" {
		t.Fatalf("unexpected truncate result: %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("short strings must be kept: %q", got)
	}
}
