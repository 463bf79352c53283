// ABOUTME: OpenAI function-tool definitions backed by the registry client
// ABOUTME: Exposes list_studies and fetch_study to the agent runner

package trials

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/uptotrial/chat-gateway/internal/agent"
)

// ToolListStudies and ToolFetchStudy are the tool names the agent sees.
const (
	ToolListStudies = "list_studies"
	ToolFetchStudy  = "fetch_study"
)

// overallStatuses enumerates the registry's recruitment status values.
var overallStatuses = []string{
	"ACTIVE_NOT_RECRUITING",
	"COMPLETED",
	"ENROLLING_BY_INVITATION",
	"NOT_YET_RECRUITING",
	"RECRUITING",
	"SUSPENDED",
	"TERMINATED",
	"WITHDRAWN",
	"AVAILABLE",
	"NO_LONGER_AVAILABLE",
	"TEMPORARILY_NOT_AVAILABLE",
	"APPROVED_FOR_MARKETING",
	"WITHHELD",
	"UNKNOWN",
}

// listStudiesArgs is the JSON shape the model sends for list_studies.
type listStudiesArgs struct {
	QueryCond           string   `json:"query_cond,omitempty"`
	QueryTerm           string   `json:"query_term,omitempty"`
	QueryLocn           string   `json:"query_locn,omitempty"`
	QueryTitles         string   `json:"query_titles,omitempty"`
	QueryIntr           string   `json:"query_intr,omitempty"`
	QueryOutc           string   `json:"query_outc,omitempty"`
	QuerySpons          string   `json:"query_spons,omitempty"`
	QueryLead           string   `json:"query_lead,omitempty"`
	QueryID             string   `json:"query_id,omitempty"`
	QueryPatient        string   `json:"query_patient,omitempty"`
	FilterOverallStatus []string `json:"filter_overall_status,omitempty"`
	FilterIDs           []string `json:"filter_ids,omitempty"`
	FilterAdvanced      string   `json:"filter_advanced,omitempty"`
	Fields              []string `json:"fields,omitempty"`
	Sort                []string `json:"sort,omitempty"`
	CountTotal          bool     `json:"count_total,omitempty"`
	PageSize            int      `json:"page_size,omitempty"`
	PageToken           string   `json:"page_token,omitempty"`
}

type fetchStudyArgs struct {
	NCTID string `json:"nct_id"`
}

// Tools builds the agent tool set backed by the given registry client.
func Tools(client *Client) []agent.Tool {
	return []agent.Tool{
		{
			Definition: openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        ToolListStudies,
					Description: "Search ClinicalTrials.gov for studies matching query and filter parameters. Query fields use Essie expression syntax.",
					Parameters: jsonschema.Definition{
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"query_cond":    {Type: jsonschema.String, Description: "Condition or disease query"},
							"query_term":    {Type: jsonschema.String, Description: "Other terms query"},
							"query_locn":    {Type: jsonschema.String, Description: "Location terms query"},
							"query_titles":  {Type: jsonschema.String, Description: "Title or acronym query"},
							"query_intr":    {Type: jsonschema.String, Description: "Intervention or treatment query"},
							"query_outc":    {Type: jsonschema.String, Description: "Outcome measure query"},
							"query_spons":   {Type: jsonschema.String, Description: "Sponsor or collaborator query"},
							"query_lead":    {Type: jsonschema.String, Description: "Lead sponsor name query"},
							"query_id":      {Type: jsonschema.String, Description: "Study IDs query"},
							"query_patient": {Type: jsonschema.String, Description: "Patient search query"},
							"filter_overall_status": {
								Type:        jsonschema.Array,
								Description: "Recruitment statuses to filter by",
								Items:       &jsonschema.Definition{Type: jsonschema.String, Enum: overallStatuses},
							},
							"filter_ids": {
								Type:        jsonschema.Array,
								Description: "NCT IDs to filter by",
								Items:       &jsonschema.Definition{Type: jsonschema.String},
							},
							"filter_advanced": {Type: jsonschema.String, Description: "Advanced filter query (Essie syntax)"},
							"fields": {
								Type:        jsonschema.Array,
								Description: "Specific fields to return, e.g. NCTId, BriefTitle, OverallStatus",
								Items:       &jsonschema.Definition{Type: jsonschema.String},
							},
							"sort": {
								Type:        jsonschema.Array,
								Description: "Sort specs in FieldName:direction form, e.g. LastUpdatePostDate:desc",
								Items:       &jsonschema.Definition{Type: jsonschema.String},
							},
							"count_total": {Type: jsonschema.Boolean, Description: "Whether to return the total match count"},
							"page_size":   {Type: jsonschema.Integer, Description: "Studies per page, max 1000"},
							"page_token":  {Type: jsonschema.String, Description: "Token for the next page"},
						},
					},
				},
			},
			Invoke: func(ctx context.Context, argsJSON string) (string, error) {
				var args listStudiesArgs
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", fmt.Errorf("parsing list_studies arguments: %w", err)
				}
				return client.ListStudies(ctx, ListStudiesParams{
					QueryCond:           args.QueryCond,
					QueryTerm:           args.QueryTerm,
					QueryLocn:           args.QueryLocn,
					QueryTitles:         args.QueryTitles,
					QueryIntr:           args.QueryIntr,
					QueryOutc:           args.QueryOutc,
					QuerySpons:          args.QuerySpons,
					QueryLead:           args.QueryLead,
					QueryID:             args.QueryID,
					QueryPatient:        args.QueryPatient,
					FilterOverallStatus: args.FilterOverallStatus,
					FilterIDs:           args.FilterIDs,
					FilterAdvanced:      args.FilterAdvanced,
					Fields:              args.Fields,
					Sort:                args.Sort,
					CountTotal:          args.CountTotal,
					PageSize:            args.PageSize,
					PageToken:           args.PageToken,
				})
			},
		},
		{
			Definition: openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        ToolFetchStudy,
					Description: "Fetch the full record of a single study by its NCT number.",
					Parameters: jsonschema.Definition{
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"nct_id": {Type: jsonschema.String, Description: "The NCT number, e.g. NCT04852770"},
						},
						Required: []string{"nct_id"},
					},
				},
			},
			Invoke: func(ctx context.Context, argsJSON string) (string, error) {
				var args fetchStudyArgs
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", fmt.Errorf("parsing fetch_study arguments: %w", err)
				}
				return client.FetchStudy(ctx, args.NCTID)
			},
		},
	}
}
