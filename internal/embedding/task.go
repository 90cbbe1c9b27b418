package embedding

// GenAI task types used for embedding requests. Queries and corpus documents
// are embedded with asymmetric task types so retrieval-tuned models score
// them correctly; the hash and ollama backends ignore these.
const (
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	TaskRetrievalQuery     = "RETRIEVAL_QUERY"
	TaskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	TaskClassification     = "CLASSIFICATION"
)

// Role describes what a text is used for when embedded.
type Role string

const (
	RoleQuery    Role = "query"    // User prompts routed against the corpus
	RoleDocument Role = "document" // Skill descriptions and trigger examples
)

// TaskFor returns the task type appropriate for a role.
func TaskFor(role Role) string {
	switch role {
	case RoleQuery:
		return TaskRetrievalQuery
	case RoleDocument:
		return TaskRetrievalDocument
	default:
		return TaskSemanticSimilarity
	}
}
