// Package proof implements the non-interactive proof that backs a JoinSplit.
//
// Overview:
//   - Membership: for every input, a one-of-many proof (Groth–Kohlweiss) that a fresh
//     pseudo-input commitment C' commits to the same amount as one member of the input's
//     decoy set, without revealing which. The decoy set itself is authenticated against
//     the accumulator digest with Merkle audit paths.
//   - Range: one aggregated Bulletproofs range proof showing every output amount lies in
//     [0, 2^64). Its size grows with the logarithm of the number of outputs.
//   - Balance: a public linear check, sum(outputs) + fee·G - sum(pseudo-inputs) == 0.
//     Pseudo-input blindings are chosen so that blindings cancel exactly.
//   - Serial numbers: a deterministic MiMC PRF of the spend key and the spent commitment.
//
// All three statements share one Fiat-Shamir transcript (gnark-crypto fiat-shamir over
// blake3). It is seeded with a domain tag, the accumulator digest, every decoy set, every
// serial number and every output commitment, so a proof cannot be replayed in another context.
//
// Security Model:
//   - Generators are hash-derived (no trusted setup).
//   - Verification recomputes every challenge, evaluates every check, and reports a single
//     uniform error when any of them fails.
//   - Secret scalars are cleared once a proof is emitted or generation fails.
//
// References:
//   - Groth, Kohlweiss. One-out-of-Many Proofs (2015).
//   - Bünz et al. Bulletproofs: Short Proofs for Confidential Transactions and More (2018).
//   - Jivanyan. Lelantus: Towards Confidentiality and Anonymity of Blockchain Transactions (2019).
package proof
