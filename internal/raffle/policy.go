package raffle

import (
	"fmt"
	"sort"

	"ms-raffle/internal/models"
	"ms-raffle/internal/utils"
)

// policyPicker implements models.WinnerPicker over a frozen candidate set.
// The candidate slice is never empty here; RunDraw guards that.
type policyPicker struct {
	intn func(n int) int
}

// NewPicker returns the production picker backed by crypto/rand.
func NewPicker() models.WinnerPicker {
	return &policyPicker{intn: utils.SecureIntn}
}

// NewPickerWithRand returns a picker with an injected random source, for
// deterministic and statistical tests.
func NewPickerWithRand(intn func(n int) int) models.WinnerPicker {
	return &policyPicker{intn: intn}
}

func (p *policyPicker) Pick(policy models.DrawPolicy, candidates []models.DrawCandidate) (models.DrawSelection, error) {
	if len(candidates) == 0 {
		return models.DrawSelection{}, models.ErrNoParticipants
	}

	byUser := make(map[string][]models.DrawCandidate)
	for _, c := range candidates {
		byUser[c.UserID] = append(byUser[c.UserID], c)
	}

	topBuyer := p.topBuyer(byUser)

	var winner models.DrawCandidate
	switch policy {
	case models.PolicyUniformPerUser:
		// Every user gets equal odds regardless of how many numbers they
		// hold: pick a user first, then one of their numbers.
		users := sortedUserIDs(byUser)
		userID := users[p.intn(len(users))]
		own := byUser[userID]
		winner = own[p.intn(len(own))]

	case models.PolicyTopBuyer:
		// The top buyer wins outright; any one of their numbers is recorded.
		own := byUser[topBuyer]
		winner = own[p.intn(len(own))]

	case models.PolicyWeightedByTicket:
		// Every approved number is one entry in the drum.
		winner = candidates[p.intn(len(candidates))]

	default:
		return models.DrawSelection{}, fmt.Errorf("unknown draw policy %q", policy)
	}

	return models.DrawSelection{
		WinningNumber:  winner.Number,
		WinnerUserID:   winner.UserID,
		TopBuyerUserID: topBuyer,
	}, nil
}

// topBuyer finds the user with the most numbers; ties break by uniform
// random choice among the tied users.
func (p *policyPicker) topBuyer(byUser map[string][]models.DrawCandidate) string {
	max := -1
	var tied []string
	for _, userID := range sortedUserIDs(byUser) {
		count := len(byUser[userID])
		switch {
		case count > max:
			max = count
			tied = []string{userID}
		case count == max:
			tied = append(tied, userID)
		}
	}
	return tied[p.intn(len(tied))]
}

// sortedUserIDs keeps user iteration deterministic so an injected random
// source reproduces the same draw.
func sortedUserIDs(byUser map[string][]models.DrawCandidate) []string {
	users := make([]string, 0, len(byUser))
	for userID := range byUser {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
