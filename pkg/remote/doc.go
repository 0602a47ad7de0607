// Package remote provides RemoteRepository implementations for the engine.
//
// GitHubClient talks to the GitHub REST contents API with an OAuth2 bearer
// token. MemoryRepository keeps files in memory and is used for dry runs
// against a local checkout and in tests.
//
// Both clients apply the same file handling strategies:
//
//   - UPDATE_IF_EXISTS updates the file in place or creates it.
//   - FAIL_IF_EXISTS returns a conflict error when the path is taken.
//   - CREATE_NEW_ALWAYS writes to the first free sibling path, for example
//     Dockerfile-2, and reports that path in the write result.
package remote
