package model

import (
	"github.com/LeonardoBeccarini/dust_patrol/internal/model/entities"
	"github.com/LeonardoBeccarini/dust_patrol/internal/model/messages"
)

// Aliases exposing the common types to the services.

type (
	MeasurementAttempt      = entities.MeasurementAttempt
	MeasurementRecord       = entities.MeasurementRecord
	Outcome                 = entities.Outcome
	PointStatus             = entities.PointStatus
	PointSequence           = entities.PointSequence
	MeasurementAttemptEvent = messages.MeasurementAttemptEvent
	PointResultEvent        = messages.PointResultEvent
	RunSummaryEvent         = messages.RunSummaryEvent
)

const (
	OutcomeAccepted = entities.OutcomeAccepted
	OutcomeExceeded = entities.OutcomeExceeded
	OutcomeNoData   = entities.OutcomeNoData

	PointSucceeded = entities.PointSucceeded
	PointFailed    = entities.PointFailed
	PointSkipped   = entities.PointSkipped
	PointAborted   = entities.PointAborted
)
