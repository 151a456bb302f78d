package services

// Credential kinds issued by the custody collaborator.
const (
	CredentialConsent    = "consent"
	CredentialCompletion = "completion"
)

// Custody is the external asset-custody capability: fund transfers in and out
// of a study's vault and credential issuance for enrollment and completion.
// Calls happen synchronously inside an engine operation; any error aborts the
// whole operation before state is committed.
type Custody interface {
	MintCredential(owner, kind, studyID string) (string, error)
	BurnCredential(credentialID string) error
	TransferToVault(assetID, from, studyID string, amount uint64) error
	TransferFromVault(assetID, studyID, to string, amount uint64) error
	Balance(assetID, account string) uint64
}
