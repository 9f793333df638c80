// Package matching contains the scoring core of the match engine.
//
// Given one student's transcript and preferences and a list of candidate
// programs, the package computes a bounded, explainable compatibility score
// per program. The package defines:
//
//   - Entities: CourseRecord, Transcript, Requirement, Program, Preferences
//   - The scoring pipeline: NormalizeTranscript, Evaluator, the sub-score
//     calculators, Mode weight profiles, Aggregator and Builder
//   - Collaborator contracts implemented in infrastructure: ProfileStore,
//     CatalogStore, CandidatePrefilter and MatchCache
//
// # Pipeline
//
//	transcript, _ := NormalizeTranscript(records)
//	builder := NewBuilder(NewAggregator(DefaultTuning(), nil), DefaultBuilderConfig())
//	results, _, err := builder.Build(ctx, transcript, prefs, programs, ModeBalanced)
//
// Every function in the pipeline is pure: identical inputs always produce
// identical results, including the order of tied scores.
//
// # Requirements
//
// Requirements sharing an OR-group id form one evaluation unit that is met
// when any member is met; its shortfall is the smallest member shortfall.
// An unmet critical unit caps the academic sub-score at Tuning.CriticalCeiling
// instead of failing the program, so callers can still explain the result.
package matching
