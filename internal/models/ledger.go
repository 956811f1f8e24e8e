/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// OutcomeRecord is one video outcome in the run history ledger.
type OutcomeRecord struct {
	ID          uint      `gorm:"primaryKey"`
	RunID       string    `gorm:"type:varchar(36);index"`
	ChannelURL  string    `gorm:"index"`
	ChannelName string
	VideoID     string    `gorm:"type:varchar(64);index"`
	Status      string    `gorm:"type:varchar(16);index"`
	Kind        string    `gorm:"type:varchar(32)"`
	Detail      string    `gorm:"type:text"`
	Attempts    int
	CreatedAt   time.Time `gorm:"index"`
}

// RunRecord is one batch run in the ledger.
type RunRecord struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	StartedAt   time.Time
	FinishedAt  *time.Time
	Interrupted bool
	Successful  int
	Failed      int
	Skipped     int
	Escalations int
}
