package response

// NoEvidenceAnswer is returned verbatim when a session gathered no evidence.
// No model call is made in that case.
const NoEvidenceAnswer = "No relevant evidence was found in the searched collections, so the question cannot be answered from the knowledge base."
