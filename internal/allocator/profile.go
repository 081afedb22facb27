/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package allocator

import "github.com/friendsincode/andhrimnir_kitchen/internal/models"

// OvenSpec is the solver's view of one oven: a grid of Racks rows, each
// RackPositions tall, running a single temperature at any instant.
type OvenSpec struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Racks           int    `json:"racks"`
	RackPositions   int    `json:"rack_positions"`
	MaxTemperatureF int    `json:"max_temperature_f"`
}

// Profile is the fixed equipment configuration a plan runs against.
// Scheduling never creates or destroys equipment.
type Profile struct {
	KitchenID string     `json:"kitchen_id"`
	Ovens     []OvenSpec `json:"ovens"`
	Burners   int        `json:"burners"`
}

// ProfileFromKitchen flattens a stored kitchen into a solver profile.
func ProfileFromKitchen(kitchen models.Kitchen) Profile {
	p := Profile{
		KitchenID: kitchen.ID,
		Burners:   kitchen.Burners,
		Ovens:     make([]OvenSpec, 0, len(kitchen.Ovens)),
	}
	for _, oven := range kitchen.Ovens {
		p.Ovens = append(p.Ovens, OvenSpec{
			ID:              oven.ID,
			Name:            oven.Name,
			Racks:           oven.Racks,
			RackPositions:   oven.RackPositions,
			MaxTemperatureF: oven.MaxTemperatureF,
		})
	}
	return p
}
