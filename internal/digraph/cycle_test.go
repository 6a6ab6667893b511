package digraph

import (
	"testing"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/stretchr/testify/require"
)

func TestSelfEdgeDetected(t *testing.T) {
	g := simpleGraph(t, "P1", "a => a")
	err := g.Validate()
	require.ErrorIs(t, err, ErrWorkflowConfig)
	require.EqualError(t, err, "WorkflowConfigError: self-edge detected: a.1 => a.1")
}

func TestSelfEdgeWithQualifier(t *testing.T) {
	g := simpleGraph(t, "P1", "a:fail => a")
	err := g.Validate()
	require.EqualError(t, err, "WorkflowConfigError: self-edge detected: a.1:failed => a.1")
}

func TestSelfEdgeSuicideAllowed(t *testing.T) {
	// Removing a task on its own failure is not a self-edge.
	g := simpleGraph(t, "P1", "a:fail => !a")
	require.NoError(t, g.Validate())
}

func TestSelfEdgeInLargeGraph(t *testing.T) {
	g := simpleGraph(t, "P1", "x => y => z\nw => v\nb => b\nz => w")
	err := g.Validate()
	require.EqualError(t, err, "WorkflowConfigError: self-edge detected: b.1 => b.1")
}

func TestCircularEdgesFourNodeRing(t *testing.T) {
	// Ring plus tail edges: the diagnostic lists exactly the ring.
	g := simpleGraph(t, "R1", "a => b => c => d => a\nd => tail")
	err := g.Validate()
	require.ErrorIs(t, err, ErrWorkflowConfig)
	require.EqualError(t, err,
		"WorkflowConfigError: circular edges detected:  "+
			"a.1 => b.1  b.1 => c.1  c.1 => d.1  d.1 => a.1")
}

func TestCircularEdgesDeterministic(t *testing.T) {
	g := simpleGraph(t, "R1", "a => b => a\nc => d => c")
	err := g.Validate()
	require.Error(t, err)
	for i := 0; i < 5; i++ {
		g2 := simpleGraph(t, "R1", "a => b => a\nc => d => c")
		err2 := g2.Validate()
		require.Equal(t, err.Error(), err2.Error())
	}
}

func TestFamilyMemberSelfEdge(t *testing.T) {
	// f feeds back into its own family: detected per member.
	g := intGraph(t, Config{
		Initial:  cycling.IntegerPoint(1),
		Final:    cycling.IntegerPoint(2),
		Families: map[string][]string{"FAM": {"f", "g"}},
		Sections: []SectionSpec{{Recurrence: "R1", Text: "FAM:succeed-all => f"}},
	})
	err := g.Validate()
	require.EqualError(t, err, "WorkflowConfigError: self-edge detected: f.1 => f.1")
}

func TestInterCycleOffsetsCycle(t *testing.T) {
	initial, err := cycling.ParsePoint("20100101T0000Z", cycling.ModeDatetime)
	require.NoError(t, err)

	g, err := New(Config{
		Mode:    cycling.ModeDatetime,
		Initial: initial,
		Sections: []SectionSpec{{
			Recurrence: "P1Y",
			Text:       "a[-P1Y] => a\na[+P1Y] => a",
		}},
	})
	require.NoError(t, err)

	verr := g.Validate()
	require.ErrorIs(t, verr, ErrWorkflowConfig)
	require.Contains(t, verr.Error(), "circular edges detected")
	require.Contains(t, verr.Error(), "a.20100101T0000Z")
	require.Contains(t, verr.Error(), "a.20110101T0000Z")
}

func TestInterCycleOffsetsNoCycle(t *testing.T) {
	// A forward chain through previous-cycle dependence is not a cycle.
	initial, err := cycling.ParsePoint("20100101T0000Z", cycling.ModeDatetime)
	require.NoError(t, err)

	g, err := New(Config{
		Mode:    cycling.ModeDatetime,
		Initial: initial,
		Sections: []SectionSpec{{
			Recurrence: "P1Y",
			Text:       "a[-P1Y] => a",
		}},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}

func TestParameterizedCycle(t *testing.T) {
	g := intGraph(t, Config{
		Initial: cycling.IntegerPoint(1),
		Final:   cycling.IntegerPoint(1),
		Params:  map[string][]string{"foo": {"1", "2"}},
		Sections: []SectionSpec{{
			Recurrence: "R1",
			Text:       "fool<foo=2> => fool<foo=1>\nfool<foo=1> => fool<foo=2>",
		}},
	})
	err := g.Validate()
	require.ErrorIs(t, err, ErrWorkflowConfig)
	require.Contains(t, err.Error(), "circular edges detected")
	require.Contains(t, err.Error(), "fool_foo1.1")
	require.Contains(t, err.Error(), "fool_foo2.1")
}

func TestSuicideEdgesExcludedFromCycleAnalysis(t *testing.T) {
	// The hard edge a => b with the suicide back edge b => !a is fine.
	g := simpleGraph(t, "P1", "a => b\nb => !a")
	require.NoError(t, g.Validate())
}

func TestAcyclicGraphValidates(t *testing.T) {
	g := simpleGraph(t, "P1", "a => b => c\na[-P1] => b\nb:fail => recover")
	require.NoError(t, g.Validate())
}
