package tool

// Tool names form a closed set. The sandbox policy whitelist and the agent
// prompt both speak in these names.
const (
	ToolShell      = "shell"
	ToolFileWrite  = "file_write"
	ToolFileDelete = "file_delete"
	ToolFetch      = "fetch"
	ToolFileRead   = "file_read"
	ToolFileList   = "file_list"
	ToolSearch     = "search"
	ToolPlanState  = "plan_state"
)

// Spec is the agent-facing description of one tool.
type Spec struct {
	Name    string
	Params  []string
	Summary string
}

// Catalog lists every registered tool in prompt order: side-effecting tools
// first, read-only tools after.
func Catalog() []Spec {
	return []Spec{
		{Name: ToolShell, Params: []string{"command"}, Summary: "run a shell command in the task workspace"},
		{Name: ToolFileWrite, Params: []string{"path", "content", "append"}, Summary: "write (or append to) a file inside the workspace"},
		{Name: ToolFileDelete, Params: []string{"path"}, Summary: "delete a file inside the workspace"},
		{Name: ToolFetch, Params: []string{"url"}, Summary: "fetch a URL over HTTP GET and return status, content type and body"},
		{Name: ToolFileRead, Params: []string{"path"}, Summary: "read a file inside the workspace"},
		{Name: ToolFileList, Params: []string{"path"}, Summary: "list a workspace directory"},
		{Name: ToolSearch, Params: []string{"query"}, Summary: "search the knowledge base for a query"},
		{Name: ToolPlanState, Params: nil, Summary: "show the current plan and step statuses of this task"},
	}
}
