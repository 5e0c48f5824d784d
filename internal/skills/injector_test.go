package skills

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func soloConfig(id, keystroke string, cooldown float64) Config {
	c := DefaultConfig()
	c.ID = id
	c.Keystroke = keystroke
	c.Cooldown = cooldown
	c.IsSelected = true
	c.KeyReplacement = false
	c.CastPosition = 0.05
	return c
}

func TestCooldownGateBlocksUntilElapsed(t *testing.T) {
	inj := NewInjector([]Config{soloConfig("a", "1", 10)}, 0, 1)
	// Force a deterministic starting point below cooldown.
	inj.states["a"].LastUsedTime = 0
	inj.UpdateSkillConditions(0)
	require.False(t, inj.states["a"].CooldownReady)
	inj.UpdateSkillConditions(10)
	require.True(t, inj.states["a"].CooldownReady)
}

func TestArrowReversalArmsOppositeArrowTimer(t *testing.T) {
	inj := NewInjector([]Config{soloConfig("a", "1", 0)}, 0, 1)
	inj.states["a"].LastUsedTime = -100
	inj.UpdateSkillConditions(0)
	require.True(t, inj.states["a"].CooldownReady)

	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowLeftUsage: {}}, 1.0)
	require.Zero(t, inj.states["a"].OppositeArrowTimer)

	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowRightUsage: {}}, 2.0)
	require.Equal(t, 2.0, inj.states["a"].OppositeArrowTimer)

	inj.UpdateSkillConditions(2.0)
	require.False(t, inj.states["a"].OppositeArrowReady)

	inj.UpdateSkillConditions(2.0 + inj.states["a"].Config.CastPosition)
	require.True(t, inj.states["a"].OppositeArrowReady)
}

func TestCanInjectSkillRequiresAllGates(t *testing.T) {
	inj := NewInjector([]Config{soloConfig("a", "1", 0)}, 0, 1)
	inj.states["a"].LastUsedTime = -100
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowLeftUsage: {}}, 0)
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowRightUsage: {}}, 1)
	now := 1 + inj.states["a"].Config.CastPosition
	inj.UpdateSkillConditions(now)
	require.True(t, inj.CanInjectSkill("a", now))
}

func TestCastSkillResetsGatesAndSetsCooldown(t *testing.T) {
	inj := NewInjector([]Config{soloConfig("a", "1", 5)}, 0, 1)
	inj.states["a"].LastUsedTime = -100
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowLeftUsage: {}}, 0)
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowRightUsage: {}}, 1)
	now := 1 + inj.states["a"].Config.CastPosition
	inj.UpdateSkillConditions(now)
	require.True(t, inj.CanInjectSkill("a", now))

	res := inj.CastSkill("a", now)
	require.Greater(t, res.PressSeconds, 0.0)
	require.False(t, inj.CanInjectSkill("a", now))
	require.Equal(t, now, inj.states["a"].LastUsedTime)
}

func TestGroupCastOrderAdvancesSequentially(t *testing.T) {
	a := soloConfig("a", "1", 0)
	a.GroupID = "g"
	a.Order = 0
	a.DelayAfter = 0.01
	b := soloConfig("b", "2", 0)
	b.GroupID = "g"
	b.Order = 1
	b.DelayAfter = 0.01

	inj := NewInjector([]Config{a, b}, 0, 1)
	inj.states["a"].LastUsedTime = -100
	inj.states["b"].LastUsedTime = -100
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowLeftUsage: {}}, 0)
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowRightUsage: {}}, 1)
	now := 1 + a.CastPosition
	inj.UpdateSkillConditions(now)

	require.True(t, inj.CanInjectSkill("a", now))
	require.False(t, inj.CanInjectSkill("b", now))

	inj.CastSkill("a", now)
	now2 := now + 10 // well past b's U(1,5) inter-member delay
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowLeftUsage: {}}, now)
	inj.UpdateArrowKeyTracking(map[uint8]struct{}{arrowRightUsage: {}}, now+0.01)
	inj.UpdateSkillConditions(now2)
	require.True(t, inj.CanInjectSkill("b", now2))
}

func TestShouldFreezeRotationWhileCasting(t *testing.T) {
	c := soloConfig("a", "1", 0)
	c.FrozenRotationDuringCasting = true
	c.SkillDelay = 1
	inj := NewInjector([]Config{c}, 0, 1)
	require.False(t, inj.ShouldFreezeRotation(0))

	res := inj.CastSkill("a", 10)
	endTime := 10 + res.PreDelay + res.PressSeconds + res.PostDelay
	require.True(t, inj.ShouldFreezeRotation(endTime-0.01))
	require.False(t, inj.ShouldFreezeRotation(endTime+0.01))
}
