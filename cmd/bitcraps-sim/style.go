package main

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"

	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/protocol"
)

func playerName(names map[protocol.PeerID]string, p protocol.PeerID) string {
	if n, ok := names[p]; ok {
		return n
	}
	return p.String()
}

func printPlayerInfo(names map[protocol.PeerID]string, state *protocol.GameState, p protocol.PeerID, main bool) string {
	hpadding := 4
	if main {
		hpadding = 10
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(hpadding).WithTopPadding(1).WithBottomPadding(1)

	var status string
	if state.IsParticipant(p) {
		status = pterm.LightGreen("Active")
	} else {
		status = pterm.LightRed("Excluded")
	}
	var wagered uint64
	for _, b := range state.Bets {
		if b.Player == p {
			wagered += b.Amount
		}
	}
	return pbox.WithTitle(playerName(names, p)).WithTitleTopLeft().
		Sprintf("%s\nBalance: %d\nOn the table: %d\n", status, state.Balance(p), wagered)
}

func printTableInfo(state *protocol.GameState) string {
	point := "come-out"
	if state.Point != 0 {
		point = fmt.Sprintf("point %d", state.Point)
	}
	roll := ""
	if state.LastRoll.Valid() {
		roll = fmt.Sprintf(" | last roll %d+%d=%d",
			state.LastRoll.D1, state.LastRoll.D2, state.LastRoll.Total())
	}
	return fmt.Sprintf("seq %d | %s | dice %s%s | treasury %d | open bets %d",
		state.Sequence, point, state.Phase, roll,
		state.Balance(ledger.Treasury), len(state.Bets))
}

func printState(names map[protocol.PeerID]string, state *protocol.GameState, self protocol.PeerID) {
	var panels []pterm.Panel
	var mainPanel pterm.Panel

	players := make([]protocol.PeerID, 0, len(state.Balances))
	for p := range state.Balances {
		if p == ledger.Treasury {
			continue
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Less(players[j]) })

	for _, p := range players {
		if p == self {
			mainPanel = pterm.Panel{Data: printPlayerInfo(names, state, p, true)}
			continue
		}
		panels = append(panels, pterm.Panel{Data: printPlayerInfo(names, state, p, false)})
	}

	tbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	table := pterm.Panel{Data: tbox.WithTitle(pterm.LightYellow("|TABLE|")).WithTitleTopCenter().
		Sprint(printTableInfo(state))}

	pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		panels,
		{table},
		{mainPanel},
	}).Render()
}

func printResolution(names map[protocol.PeerID]string, before, after *protocol.GameState) {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	out := pterm.Sprintfln("rolled %d+%d=%d",
		after.LastRoll.D1, after.LastRoll.D2, after.LastRoll.Total())
	for p, b := range after.Balances {
		if p == ledger.Treasury {
			continue
		}
		prev := before.Balances[p]
		switch {
		case b > prev:
			out += pterm.Sprintfln("%s won %d", pterm.LightCyan(playerName(names, p)), b-prev)
		case b < prev:
			out += pterm.Sprintfln("%s lost %d", playerName(names, p), prev-b)
		}
	}
	pterm.Println(pbox.WithTitle(pterm.LightGreen("|ROLL|")).WithTitleTopCenter().Sprint(out))
}
