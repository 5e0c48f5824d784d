// Injector implements the cascaded skill-injection gate machine that
// decides, on every playback tick, whether an extra "skill" keystroke
// should be interleaved into the recorded action stream. Grounded on
// msmacro/core/skill_injector.py's SkillInjector verbatim: the same five
// gates, in the same order, with the same timing constants.
package skills

import (
	"math/rand"
	"sort"

	"github.com/hidrelay/macrod/internal/keymap"
)

// Arrow/space tracking runs on HID usage codes, the same domain as the
// Player's down/up stream (ev.Usage), not evdev codes: ARROW_LEFT=80,
// ARROW_RIGHT=79, SPACE_KEY=44 in msmacro/core/skill_injector.py.
var (
	arrowLeftUsage  = keymap.NameToUsage("LEFT")
	arrowRightUsage = keymap.NameToUsage("RIGHT")
	spaceUsage      = keymap.NameToUsage("SPACE")
)

// SkillState is the per-skill runtime state the injector cascades
// through its gates. One exists per selected skill for the lifetime of
// a playback session.
type SkillState struct {
	Config Config

	LastUsedTime float64
	IsCasting    bool
	CastEndTime  float64 // IsCasting clears once now >= CastEndTime

	CooldownReady bool

	OppositeArrowTimer float64 // time.Time-as-float seconds; 0 == unset
	OppositeArrowReady bool

	ReplacementReady    bool
	ReplacementMode     string // "" (undecided), "replacement", "after-space"
	IgnoreKeys          map[uint8]struct{}
	AfterSpaceReadyTime float64

	GroupIndex int // position within its group's cast order, -1 if solo
}

func newSkillState(c Config, now float64, rng *rand.Rand) *SkillState {
	return &SkillState{
		Config:       c,
		LastUsedTime: now - c.Cooldown + rng.Float64()*c.Cooldown,
		IgnoreKeys:   make(map[uint8]struct{}),
		GroupIndex:   -1,
	}
}

// group tracks the cast-order cursor for a set of skills sharing a
// GroupID, matching skill_injector.py's _build_skill_groups bookkeeping.
type group struct {
	members         []string // skill ids, in Order
	currentIndex    int
	everCast        bool
	restartTime     float64
}

// Injector orchestrates the gate cascade across every selected skill.
type Injector struct {
	rng    *rand.Rand
	states map[string]*SkillState
	order  []string // skill ids in stable iteration order
	groups map[string]*group

	lastArrow   uint8 // HID usage of last arrow seen held, 0 if none
	spaceDown   bool
	pressedKeys map[uint8]struct{}

	frozenUntil float64 // global rotation-freeze timestamp
}

// NewInjector builds an injector over the given selected skill configs,
// seeded at t=now.
func NewInjector(configs []Config, now float64, seed int64) *Injector {
	sorted := append([]Config(nil), configs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	rng := rand.New(rand.NewSource(seed))
	inj := &Injector{
		rng:         rng,
		states:      make(map[string]*SkillState),
		pressedKeys: make(map[uint8]struct{}),
	}
	for _, c := range sorted {
		inj.states[c.ID] = newSkillState(c, now, rng)
		inj.order = append(inj.order, c.ID)
	}
	inj.buildGroups()
	return inj
}

func (inj *Injector) buildGroups() {
	inj.groups = make(map[string]*group)
	byGroup := make(map[string][]string)
	for _, id := range inj.order {
		gid := inj.states[id].Config.GroupID
		if gid == "" {
			continue
		}
		byGroup[gid] = append(byGroup[gid], id)
	}
	for gid, ids := range byGroup {
		sort.SliceStable(ids, func(i, j int) bool {
			return inj.states[ids[i]].Config.Order < inj.states[ids[j]].Config.Order
		})
		inj.groups[gid] = &group{members: ids}
		for i, id := range ids {
			inj.states[id].GroupIndex = i
		}
	}
}

// SetPressedKeys replaces the set of currently physically-held usage
// codes, used by the idle gate (Gate 4) to require an empty keyboard
// before an idle-mode injection fires.
func (inj *Injector) SetPressedKeys(pressed map[uint8]struct{}) {
	inj.pressedKeys = pressed
}

// UpdateArrowKeyTracking detects Left<->Right direction reversals and
// arms the opposite-arrow timer (Gate 2) for every cooldown-ready,
// non-casting skill. Call on every tick with the Player's live
// held-usage set, mirroring check_and_inject_skills's
// update_arrow_key_tracking(pressed_keys, current_time).
func (inj *Injector) UpdateArrowKeyTracking(pressed map[uint8]struct{}, now float64) {
	_, left := pressed[arrowLeftUsage]
	_, right := pressed[arrowRightUsage]
	switch {
	case left:
		if inj.lastArrow == arrowRightUsage {
			inj.armOppositeArrow(now)
		}
		inj.lastArrow = arrowLeftUsage
	case right:
		if inj.lastArrow == arrowLeftUsage {
			inj.armOppositeArrow(now)
		}
		inj.lastArrow = arrowRightUsage
	}
}

func (inj *Injector) armOppositeArrow(now float64) {
	for _, id := range inj.order {
		st := inj.states[id]
		cooldownReady := st.Config.GroupID != "" || canCastAfter(st, now)
		if st.IsCasting || !cooldownReady {
			continue
		}
		st.OppositeArrowTimer = now
		st.OppositeArrowReady = false
	}
}

// canCastAfter mirrors SkillConfig.cooldown gating: enough time must
// have elapsed since the skill's last cast.
func canCastAfter(st *SkillState, now float64) bool {
	return now-st.LastUsedTime >= st.Config.Cooldown
}

// UpdateSkillConditions advances gates 1-3 for every skill. Gates run in
// a strict cascade: a gate that has not yet passed resets every
// downstream flag and returns early for that skill, matching
// update_skill_conditions.
func (inj *Injector) UpdateSkillConditions(now float64) {
	for _, id := range inj.order {
		st := inj.states[id]

		// Gate 1: cooldown. Grouped skills auto-pass (their group-order
		// gate governs timing instead); solo skills must clear their own
		// cooldown window.
		if st.Config.GroupID != "" {
			st.CooldownReady = true
		} else {
			st.CooldownReady = canCastAfter(st, now)
		}
		if !st.CooldownReady {
			st.OppositeArrowReady = false
			st.ReplacementReady = false
			st.ReplacementMode = ""
			continue
		}

		// Gate 2: opposite-arrow dwell.
		if st.OppositeArrowTimer == 0 {
			st.OppositeArrowReady = false
			st.ReplacementReady = false
			st.ReplacementMode = ""
			continue
		}
		if now < st.OppositeArrowTimer+st.Config.CastPosition {
			st.OppositeArrowReady = false
			st.ReplacementReady = false
			st.ReplacementMode = ""
			continue
		}
		st.OppositeArrowReady = true

		// Gate 3: key-replacement arming.
		if !st.Config.KeyReplacement {
			st.ReplacementReady = true
			continue
		}
		if st.ReplacementMode == "" {
			if inj.rng.Float64() < st.Config.ReplaceRate {
				st.ReplacementMode = "replacement"
			} else {
				st.ReplacementMode = "after-space"
				st.AfterSpaceReadyTime = 0
			}
		}
		switch st.ReplacementMode {
		case "replacement":
			st.ReplacementReady = len(st.IgnoreKeys) > 0
		case "after-space":
			// A not-currently-pressed space is treated as released,
			// matching update_skill_conditions's SPACE_KEY-not-in-
			// pressed_keys check (it doesn't require having observed a
			// prior press).
			if !inj.spaceDown && st.AfterSpaceReadyTime == 0 {
				st.AfterSpaceReadyTime = now + 0.33 + inj.rng.Float64()*0.17 // U(0.33,0.5)
			}
			st.ReplacementReady = st.AfterSpaceReadyTime != 0 && now >= st.AfterSpaceReadyTime
		}
	}
}

// NoteSpaceKey records whether SPACE is currently held. Call on every
// tick with the Player's live held-usage set; the after-space
// replacement arm (Gate 3) reads it back in UpdateSkillConditions.
func (inj *Injector) NoteSpaceKey(pressed map[uint8]struct{}) {
	_, inj.spaceDown = pressed[spaceUsage]
}

// checkGroupCastingOrder is Gate 5: solo skills always pass; grouped
// skills must be at their group's current cast index and past the
// inter-member delay. Grounded on _check_group_casting_order.
func (inj *Injector) checkGroupCastingOrder(st *SkillState, now float64) bool {
	if st.Config.GroupID == "" {
		return true
	}
	g := inj.groups[st.Config.GroupID]
	if g == nil || g.currentIndex != st.GroupIndex {
		return false
	}
	if st.GroupIndex == 0 {
		if !g.everCast {
			return true
		}
		return now >= g.restartTime
	}
	prevID := g.members[st.GroupIndex-1]
	prev := inj.states[prevID]
	return now >= prev.LastUsedTime+prev.Config.DelayAfter+(1+inj.rng.Float64()*4) // U(1,5)
}

// CanInjectSkill reports whether st is fully eligible to cast right now,
// combining is_selected/is_casting with the three cascaded flags and the
// group-order gate. Grounded on can_inject_skill.
func (inj *Injector) CanInjectSkill(id string, now float64) bool {
	st := inj.states[id]
	if st == nil || !st.Config.IsSelected || st.IsCasting {
		return false
	}
	if !st.CooldownReady || !st.OppositeArrowReady || !st.ReplacementReady {
		return false
	}
	return inj.checkGroupCastingOrder(st, now)
}

// ShouldFreezeRotation reports whether the global cast-freeze window
// armed by a frozen-rotation cast is still active. Grounded on
// should_freeze_rotation's current_time < frozen_until check.
func (inj *Injector) ShouldFreezeRotation(now float64) bool {
	return now < inj.frozenUntil
}

// CastResult describes the timing an injected skill cast should be
// played out with.
type CastResult struct {
	Usage        uint8
	PreDelay     float64
	PressSeconds float64
	PostDelay    float64
}

// CastSkill commits an injection: resets cooldown/gate flags, advances
// the skill's group cursor, and returns the press timing for the
// caller (the Player) to execute. Grounded on cast_skill: a frozen
// cast adds a pre-pause U(0.5,0.7) and a post-pause U(0.5,0.7) on top
// of the press and general post-cast delay U(skill_delay,
// skill_delay+0.2), and arms the global frozen_until through the end
// of that whole window; a non-frozen cast has no pre-pause and its
// post-delay is the general post-cast delay alone.
func (inj *Injector) CastSkill(id string, now float64) CastResult {
	st := inj.states[id]
	pressDur := 0.1 + inj.rng.Float64()*0.05 // U(0.1,0.15)

	st.LastUsedTime = now
	st.IsCasting = true
	st.OppositeArrowTimer = 0
	st.OppositeArrowReady = false
	st.ReplacementReady = false
	st.ReplacementMode = ""
	st.IgnoreKeys = make(map[uint8]struct{})
	st.AfterSpaceReadyTime = 0

	if g := inj.groups[st.Config.GroupID]; g != nil {
		g.everCast = true
		if st.GroupIndex == len(g.members)-1 {
			g.currentIndex = 0
			g.restartTime = now + st.Config.DelayAfter
		} else {
			g.currentIndex = st.GroupIndex + 1
		}
	}

	generalPostDelay := st.Config.SkillDelay + inj.rng.Float64()*0.2 // U(skill_delay, skill_delay+0.2)

	res := CastResult{Usage: keymap.NameToUsage(st.Config.Keystroke), PressSeconds: pressDur}
	if st.Config.FrozenRotationDuringCasting {
		prePause := 0.5 + inj.rng.Float64()*0.2  // U(0.5,0.7)
		postPause := 0.5 + inj.rng.Float64()*0.2 // U(0.5,0.7)
		res.PreDelay = prePause
		res.PostDelay = postPause + generalPostDelay
		st.CastEndTime = now + prePause + pressDur + postPause + generalPostDelay
		inj.frozenUntil = st.CastEndTime
	} else {
		res.PreDelay = 0
		res.PostDelay = generalPostDelay
		st.CastEndTime = now + pressDur + generalPostDelay
	}
	return res
}

// UpdateCastingState clears IsCasting once a cast's full pre/press/post
// window (CastEndTime, set by CastSkill) has elapsed.
func (inj *Injector) UpdateCastingState(now float64) {
	for _, id := range inj.order {
		st := inj.states[id]
		if st.IsCasting && now >= st.CastEndTime {
			st.IsCasting = false
		}
	}
}

// CheckAndInjectSkills is the top-level tick: update arrow tracking has
// already happened via UpdateArrowKeyTracking/NoteSpaceKey, so this
// advances casting state and gate conditions, then returns the id of
// the first eligible skill to cast (replacement-mode skills may inject
// while keys are held; idle-gate skills require an empty keyboard).
// Grounded on check_and_inject_skills.
func (inj *Injector) CheckAndInjectSkills(now float64) (string, bool) {
	inj.UpdateCastingState(now)
	inj.UpdateSkillConditions(now)

	idle := len(inj.pressedKeys) == 0
	for _, id := range inj.order {
		st := inj.states[id]
		if !inj.CanInjectSkill(id, now) {
			continue
		}
		if st.ReplacementMode == "replacement" || idle {
			return id, true
		}
	}
	return "", false
}
