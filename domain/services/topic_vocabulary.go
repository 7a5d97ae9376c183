package services

// TermGroup is a curated cluster of terms that signal the same subject area
type TermGroup struct {
	Name  string
	Terms []string
}

// Vocabulary is the fixed word data the keyword analyzer works from.
// It is read once when an analyzer is built and never changed afterwards.
type Vocabulary struct {
	StopWords           []string
	StopPhrases         []string
	ContinuationPhrases []string
	RelatedTermGroups   []TermGroup
}

// DefaultVocabulary returns a fresh copy of the built-in English vocabulary
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		StopWords: []string{
			"the", "be", "to", "of", "and", "a", "in", "that", "have", "i",
			"it", "for", "not", "on", "with", "he", "as", "you", "do", "at",
			"this", "but", "his", "by", "from", "they", "we", "say", "her", "she",
			"or", "an", "will", "my", "one", "all", "would", "there", "their", "what",
			"so", "up", "out", "if", "about", "who", "get", "which", "go", "me",
			"when", "make", "can", "like", "no", "just", "him", "into", "your", "some",
			"could", "them", "see", "other", "than", "then", "now", "only", "its", "over",
			"after", "how", "our", "even", "want", "because", "any", "these", "us", "is",
			"was", "are", "been", "has", "had", "were", "said", "did", "having", "may",
			"am", "should", "too", "very", "where", "why", "does", "doing", "done", "being",
			"those", "such", "each", "both", "few", "own", "same", "here", "while", "during",
			"before", "between", "through", "again", "once", "yes", "yeah", "okay", "ok", "um",
			"uh", "really", "actually", "basically", "thing", "things", "lot", "lots", "let", "lets",
			"let's", "i'm", "it's", "that's", "don't", "you're", "we're", "they're", "i've", "can't",
			"something", "anything", "everything", "someone", "way", "ways", "kind", "sort", "much", "many",
			"well", "please",
		},
		StopPhrases: []string{
			"good question",
			"great question",
			"thank you",
			"thanks",
			"you know",
			"i mean",
			"make sure",
			"sounds good",
			"no problem",
			"of course",
		},
		ContinuationPhrases: []string{
			"also",
			"what about",
			"tell me more",
			"more about",
			"elaborate",
			"go deeper",
			"dig deeper",
			"expand on",
			"follow up",
			"further",
			"additionally",
			"building on",
		},
		RelatedTermGroups: []TermGroup{
			{Name: "artificial-intelligence", Terms: []string{
				"ai", "artificial intelligence", "machine learning", "ml", "deep learning",
				"neural network", "neural networks", "llm", "llms", "nlp",
				"natural language processing", "computer vision", "model training", "transformer", "transformers",
			}},
			{Name: "programming", Terms: []string{
				"programming", "code", "coding", "software", "developer", "development",
				"algorithm", "algorithms", "data structures", "debugging", "refactoring", "design patterns",
			}},
			{Name: "web", Terms: []string{
				"web", "frontend", "backend", "javascript", "typescript", "react", "angular",
				"html", "css", "api", "apis", "rest", "graphql", "http",
			}},
			{Name: "data", Terms: []string{
				"database", "databases", "sql", "nosql", "postgres", "postgresql", "mysql",
				"query", "queries", "schema", "indexing", "data modeling", "data pipeline", "etl",
			}},
			{Name: "infrastructure", Terms: []string{
				"cloud", "aws", "azure", "gcp", "kubernetes", "docker", "containers",
				"devops", "infrastructure", "deployment", "ci", "cd", "terraform", "monitoring",
			}},
			{Name: "testing", Terms: []string{
				"testing", "tests", "unit tests", "unit testing", "integration tests", "test coverage",
				"qa", "quality assurance", "tdd", "test driven development",
			}},
			{Name: "security", Terms: []string{
				"security", "authentication", "authorization", "encryption", "vulnerability",
				"vulnerabilities", "oauth", "owasp", "penetration testing",
			}},
			{Name: "teamwork", Terms: []string{
				"team", "teamwork", "collaboration", "communication", "leadership", "conflict",
				"mentoring", "management", "stakeholders", "feedback",
			}},
			{Name: "career", Terms: []string{
				"career", "experience", "background", "role", "job", "goals", "strengths",
				"weaknesses", "motivation", "achievements", "projects", "project",
			}},
		},
	}
}
