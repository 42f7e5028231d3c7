// Package triage provides the business boundary for the clinic's SOS triage.
// It defines the Questionnaire (fixed questions and weights), the Scorer (pure
// classification into an urgency tier), the Session state machine, the Service
// (lifecycle, persistence, notifications) and the Store interface.
package triage
