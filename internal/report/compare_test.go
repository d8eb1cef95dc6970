package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareSnapshots(t *testing.T) {
	from := Snapshot{Version: 1, Sections: map[SectionID]json.RawMessage{
		SectionExecutive: json.RawMessage(`{"text":"v1","score":3}`),
		SectionClients:   json.RawMessage(`["acme"]`),
		SectionKeywords:  json.RawMessage(`["crm"]`),
	}}
	to := Snapshot{Version: 2, Sections: map[SectionID]json.RawMessage{
		SectionExecutive: json.RawMessage(`{"score":3, "text":"v1"}`),
		SectionClients:   json.RawMessage(`["acme","globex"]`),
		SectionProducts:  json.RawMessage(`{"items":["erp"]}`),
		SectionKeywords:  json.RawMessage(`[]`),
	}}

	require.Equal(t, []SectionChange{
		{Section: SectionClients, Kind: ChangeChanged},
		{Section: SectionProducts, Kind: ChangeAdded},
		{Section: SectionKeywords, Kind: ChangeRemoved},
	}, Compare(from, to))
	require.Empty(t, Compare(from, from))
}
