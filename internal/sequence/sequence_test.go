package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		width  int
		values []string
		want   string
	}{
		{"empty collection", "INS-", 4, nil, "INS-0001"},
		{"next after max", "INS-", 4, []string{"INS-0001", "INS-0002"}, "INS-0003"},
		{"gaps keep max", "CF-", 5, []string{"CF-00001", "CF-00007", "CF-00003"}, "CF-00008"},
		{"malformed suffix skipped", "BID-", 5, []string{"BID-00002", "BID-abc", "BID-", "BID-1x"}, "BID-00003"},
		{"other prefixes ignored", "RB-", 5, []string{"RBE-000009", "RB-00004", "GL-00100"}, "RB-00005"},
		{"negative suffix skipped", "GL-", 5, []string{"GL--0009", "GL-00002"}, "GL-00003"},
		{"wider than width", "LEAD-", 4, []string{"LEAD-12345"}, "LEAD-12346"},
		{"unpadded legacy value", "PL-", 5, []string{"PL-41"}, "PL-00042"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.prefix, tt.width, tt.values))
		})
	}
}

func TestNext(t *testing.T) {
	type rec struct{ id string }
	items := []rec{{"INSC-00009"}, {"junk"}, {"INSC-00010"}}

	got := Next(InsuranceCustomer, items, func(r rec) string { return r.id })
	assert.Equal(t, "INSC-00011", got)

	assert.Equal(t, "RBE-000001", Next(ReliantBestEntry, []rec{}, func(r rec) string { return r.id }))
}
