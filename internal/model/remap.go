package model

// IDMap records identifier rewrites from one store's identifiers to another's
// (local to remote during a drain, old to new during an import). A lookup
// miss is reported to the caller rather than silently dropped or guessed.
type IDMap map[string]string

// Lookup returns the mapped identifier, or the input unchanged plus false
// when no mapping exists.
func (m IDMap) Lookup(id string) (string, bool) {
	if id == "" {
		return "", true // absent reference, nothing to remap
	}
	if mapped, ok := m[id]; ok {
		return mapped, true
	}
	return id, false
}

// Gap describes a foreign-key reference that could not be remapped because
// the referenced entity was missing from the identifier map.
type Gap struct {
	Kind  Kind   // kind of the entity holding the reference
	ID    string // identifier of the entity holding the reference
	Field string // which reference field missed
	Ref   string // the unresolved identifier, left in place
}

// RewriteRefs rewrites every foreign-key reference held by e through the
// per-kind identifier maps. References with no map entry are left unchanged
// and returned as gaps. The entity's own identifier is not touched.
func RewriteRefs(e Entity, players, seasons, tournaments IDMap) []Gap {
	switch v := e.(type) {
	case *Player:
		return nil // players hold no references
	case *Season:
		return rewriteRoster(v.Kind(), v.ID, v.DefaultRosterIDs, players)
	case *Tournament:
		return rewriteRoster(v.Kind(), v.ID, v.DefaultRosterIDs, players)
	case *SavedGame:
		return rewriteGame(v, players, seasons, tournaments)
	default:
		return nil
	}
}

func rewriteRoster(kind Kind, id string, roster []string, players IDMap) []Gap {
	var gaps []Gap
	for i, ref := range roster {
		mapped, ok := players.Lookup(ref)
		if !ok {
			gaps = append(gaps, Gap{Kind: kind, ID: id, Field: "defaultRosterIds", Ref: ref})
			continue
		}
		roster[i] = mapped
	}
	return gaps
}

func rewriteGame(g *SavedGame, players, seasons, tournaments IDMap) []Gap {
	var gaps []Gap

	miss := func(field, ref string) {
		gaps = append(gaps, Gap{Kind: KindGame, ID: g.ID, Field: field, Ref: ref})
	}

	if mapped, ok := seasons.Lookup(g.SeasonID); ok {
		g.SeasonID = mapped
	} else {
		miss("seasonId", g.SeasonID)
	}
	if mapped, ok := tournaments.Lookup(g.TournamentID); ok {
		g.TournamentID = mapped
	} else {
		miss("tournamentId", g.TournamentID)
	}

	for i, ref := range g.SelectedPlayerIDs {
		if mapped, ok := players.Lookup(ref); ok {
			g.SelectedPlayerIDs[i] = mapped
		} else {
			miss("selectedPlayerIds", ref)
		}
	}
	for i := range g.Placements {
		if mapped, ok := players.Lookup(g.Placements[i].PlayerID); ok {
			g.Placements[i].PlayerID = mapped
		} else {
			miss("placements.playerId", g.Placements[i].PlayerID)
		}
	}
	for i := range g.Events {
		if mapped, ok := players.Lookup(g.Events[i].ScorerID); ok {
			g.Events[i].ScorerID = mapped
		} else {
			miss("events.scorerId", g.Events[i].ScorerID)
		}
		if mapped, ok := players.Lookup(g.Events[i].AssisterID); ok {
			g.Events[i].AssisterID = mapped
		} else {
			miss("events.assisterId", g.Events[i].AssisterID)
		}
	}
	return gaps
}

// RewriteID replaces occurrences of oldID in e, both as the entity's own
// identifier and in any reference field. This is the rewrite the sync engine
// applies to queued payloads after the backend assigns a canonical identifier.
func RewriteID(e Entity, oldID, newID string) {
	if e.GetID() == oldID {
		e.SetID(newID)
	}
	m := IDMap{oldID: newID}
	// Gaps are expected here: entries referencing unrelated entities simply
	// keep their identifiers.
	_ = RewriteRefs(e, m, m, m)
}
