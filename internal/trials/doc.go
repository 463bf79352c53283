// Package trials wraps the ClinicalTrials.gov API v2 and exposes it to
// the agent as function tools.
//
// The client returns registry responses as opaque JSON text with
// Markdown markup; the model interprets the payload, so nothing here
// parses study records. Tools binds list_studies and fetch_study to a
// Client instance.
package trials
