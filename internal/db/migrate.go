/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/audioharvest/internal/models"
)

// Migrate creates or updates the ledger tables.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.RunRecord{}, &models.OutcomeRecord{}); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}
