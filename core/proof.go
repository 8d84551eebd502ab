package core

// ProofPoints are the Groth16 proof elements returned by the prover.
type ProofPoints struct {
	A []string   `json:"a"`
	B [][]string `json:"b"`
	C []string   `json:"c"`
}

// ClaimDetails locates the issuer claim inside the base64 token body.
type ClaimDetails struct {
	Value     string `json:"value"`
	IndexMod4 int    `json:"indexMod4"`
}

// ProofArtifact is the zero-knowledge proof for one (key, horizon, randomness,
// token) tuple. It is not reusable across sessions.
type ProofArtifact struct {
	ProofPoints      ProofPoints  `json:"proofPoints"`
	IssBase64Details ClaimDetails `json:"issBase64Details"`
	HeaderBase64     string       `json:"headerBase64"`
	AddressSeed      string       `json:"addressSeed,omitempty"`
}

// Complete reports whether every proof element is present.
func (p ProofArtifact) Complete() bool {
	return len(p.ProofPoints.A) > 0 &&
		len(p.ProofPoints.B) > 0 &&
		len(p.ProofPoints.C) > 0 &&
		p.IssBase64Details.Value != "" &&
		p.HeaderBase64 != ""
}

// ProofRequest is what the prover receives.
type ProofRequest struct {
	JWT                        string `json:"jwt"`
	ExtendedEphemeralPublicKey string `json:"extendedEphemeralPublicKey"`
	MaxEpoch                   string `json:"maxEpoch"`
	JWTRandomness              string `json:"jwtRandomness"`
	Salt                       string `json:"salt"`
	KeyClaimName               string `json:"keyClaimName"`
}
