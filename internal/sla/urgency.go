package sla

import (
	"sort"

	"github.com/voicetel/freescout-sla-tray/internal/models"
)

// MaxDisplayed is the number of tickets listed in the tray menu.
const MaxDisplayed = 3

type Selection struct {
	Selected  *models.Ticket
	Displayed []models.Ticket
}

// Select orders the batch by how long each ticket has been waiting and picks
// the most urgent one. The input slice is never modified.
func Select(tickets []models.Ticket, filterPending bool) Selection {
	candidates := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if filterPending && t.Status == models.StatusPending {
			continue
		}
		candidates = append(candidates, t)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].WaitingSince.Before(candidates[j].WaitingSince)
	})

	var sel Selection
	if len(candidates) == 0 {
		return sel
	}

	selected := candidates[0]
	sel.Selected = &selected

	n := len(candidates)
	if n > MaxDisplayed {
		n = MaxDisplayed
	}
	sel.Displayed = candidates[:n:n]

	return sel
}
