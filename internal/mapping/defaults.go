package mapping

import (
	"notionsync/internal/models"
	"notionsync/internal/notion"
)

// Defaults returns the built-in table mappings. Database ids come from
// configuration; tables whose id is absent stay declared but disabled.
// Every mapped database carries an "ID" rich_text property holding the
// local record id, which is how pages are located for update and delete.
func Defaults(databaseIDs map[string]string) []Mapping {
	return []Mapping{
		{
			Table:         "projects",
			DatabaseID:    databaseIDs["projects"],
			TitleProperty: "name",
			Properties: []PropertyMapping{
				{Column: "id", Property: models.RecordIDProperty, Kind: notion.KindRichText},
				{Column: "name", Property: "Name", Kind: notion.KindTitle},
				{Column: "description", Property: "Description", Kind: notion.KindRichText},
				{Column: "status", Property: "Status", Kind: notion.KindSelect},
				{Column: "start_date", Property: "Start Date", Kind: notion.KindDate},
				{Column: "end_date", Property: "End Date", Kind: notion.KindDate},
				{Column: "budget", Property: "Budget", Kind: notion.KindNumber},
				{Column: "actual_cost", Property: "Actual Cost", Kind: notion.KindNumber},
			},
			Relations: []RelationMapping{
				{Column: "client_id", Property: "Client", RelatedDatabaseID: databaseIDs["clients"]},
			},
		},
		{
			Table:         "meetings",
			DatabaseID:    databaseIDs["meetings"],
			TitleProperty: "title",
			Properties: []PropertyMapping{
				{Column: "id", Property: models.RecordIDProperty, Kind: notion.KindRichText},
				{Column: "title", Property: "Title", Kind: notion.KindTitle},
				{Column: "date", Property: "Date", Kind: notion.KindDate},
				{Column: "duration", Property: "Duration", Kind: notion.KindNumber},
				{Column: "summary", Property: "Summary", Kind: notion.KindRichText},
				{Column: "transcript_url", Property: "Transcript", Kind: notion.KindURL},
				{Column: "fireflies_url", Property: "Fireflies Link", Kind: notion.KindURL},
				{Column: "action_items", Property: "Action Items", Kind: notion.KindRichText},
			},
			Relations: []RelationMapping{
				{Column: "project_id", Property: "Project", RelatedDatabaseID: databaseIDs["projects"]},
			},
		},
		{
			Table:         "clients",
			DatabaseID:    databaseIDs["clients"],
			TitleProperty: "name",
			Properties: []PropertyMapping{
				{Column: "id", Property: models.RecordIDProperty, Kind: notion.KindRichText},
				{Column: "name", Property: "Name", Kind: notion.KindTitle},
				{Column: "email", Property: "Email", Kind: notion.KindEmail},
				{Column: "phone", Property: "Phone", Kind: notion.KindPhoneNumber},
				{Column: "address", Property: "Address", Kind: notion.KindRichText},
				{Column: "website", Property: "Website", Kind: notion.KindURL},
				{Column: "status", Property: "Status", Kind: notion.KindSelect},
			},
			Relations: []RelationMapping{
				{Column: "company_id", Property: "Company", RelatedDatabaseID: databaseIDs["companies"]},
			},
		},
		{
			Table:         "tasks",
			DatabaseID:    databaseIDs["tasks"],
			TitleProperty: "title",
			Properties: []PropertyMapping{
				{Column: "id", Property: models.RecordIDProperty, Kind: notion.KindRichText},
				{Column: "title", Property: "Title", Kind: notion.KindTitle},
				{Column: "description", Property: "Description", Kind: notion.KindRichText},
				{Column: "status", Property: "Status", Kind: notion.KindSelect},
				{Column: "priority", Property: "Priority", Kind: notion.KindSelect},
				{Column: "due_date", Property: "Due Date", Kind: notion.KindDate},
				{Column: "completed_at", Property: "Completed At", Kind: notion.KindDate},
			},
			Relations: []RelationMapping{
				{Column: "project_id", Property: "Project", RelatedDatabaseID: databaseIDs["projects"]},
				{Column: "assigned_to", Property: "Assigned To", RelatedDatabaseID: databaseIDs["employees"]},
			},
		},
	}
}
