package core

import "time"

// ModuleTrend summarises the persisted results of one module over a period.
type ModuleTrend struct {
	Module       string               `json:"module"`
	DisplayName  string               `json:"displayName"`
	Samples      int                  `json:"samples"`
	AverageScore float64              `json:"averageScore"`
	MinScore     int                  `json:"minScore"`
	MaxScore     int                  `json:"maxScore"`
	StatusCounts map[ModuleStatus]int `json:"statusCounts"`
	LastStatus   ModuleStatus         `json:"lastStatus"`
	LastScore    int                  `json:"lastScore"`
	LastCheck    time.Time            `json:"lastCheck"`
}

type HealthReport struct {
	ID             string        `json:"id"`
	PeriodStart    time.Time     `json:"periodStart"`
	PeriodEnd      time.Time     `json:"periodEnd"`
	GeneratedAt    time.Time     `json:"generatedAt"`
	TotalSamples   int           `json:"totalSamples"`
	OverallAverage float64       `json:"overallAverage"`
	Modules        []ModuleTrend `json:"modules"`
}
