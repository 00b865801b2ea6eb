package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteIsTotal(t *testing.T) {
	for _, stage := range SupportedStages() {
		w := Route(stage)
		require.NotEqual(t, TroopGeneric, w, "supported stage %q must not resolve to the generic fallback", stage)
	}

	require.Equal(t, TroopGeneric, Route("some-unknown-stage"))
	require.Equal(t, TroopGeneric, Route(""))
}

func TestDispatchSerialiseRoundTrip(t *testing.T) {
	d := New("requirements-analysis", "gt-5", "sci-calc", "/work/sci-calc",
		WithReviewGateID("gt-6"),
		WithUnitName("core"),
		WithPhase(PhaseConstruction),
		WithInputArtifacts([]string{"aidlc-docs/inception/requirements/requirements.md"}),
		WithReferenceDocs([]string{"aidlc-docs/inception/design/design.md"}),
		WithInstructions(`{"foo":"bar"}`),
	)

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var round Dispatch
	require.NoError(t, json.Unmarshal(raw, &round))
	require.Equal(t, d, round)
}

func TestCompletionSerialiseRoundTrip(t *testing.T) {
	c := Completed("requirements-analysis", "gt-5",
		[]string{"aidlc-docs/inception/requirements/requirements.md"},
		"Completed requirements analysis")

	raw, err := json.Marshal(c)
	require.NoError(t, err)

	var round Completion
	require.NoError(t, json.Unmarshal(raw, &round))
	require.Equal(t, c, round)
}
