// Package engine classifies source repositories and reconciles their
// container and CI artifacts with a remote repository.
//
// # Overview
//
// The engine works against a remote tree/content API and never touches a
// local checkout. A request flows through these components:
//
//  1. StackClassifier - assigns a stack tag to one directory listing
//  2. TreeWalker - drives a bounded pre-order walk feeding the classifier
//  3. ServiceAnalyzer - describes services, databases and relationships
//  4. ContainerPlanner - decides Dockerfile presence, staleness and content
//  5. CiPlanner - renders workflow templates at collision-free paths
//  6. ComposePlanner - finds compose files or synthesizes a production one
//  7. ReconciliationEngine - previews and applies the artifacts
//
// Caller-supplied relationships are checked by BuildServiceGraph, which
// rejects unknown endpoints and cycles and orders services for startup.
//
// # Stacks
//
// Marker files are checked in a fixed priority, independent of the order
// the remote lists them in:
//
//   - pom.xml: SPRING_MAVEN
//   - build.gradle, build.gradle.kts: SPRING_GRADLE
//   - package.json: NODE
//
// A repository without markers is GENERIC at the root. In multi-service
// mode Android Gradle modules and react-native or expo packages are skipped.
//
// # Preview and Apply
//
// Previews are read-only and report an ArtifactStatus per target path:
//
//   - NOT_FOUND: nothing exists at the path
//   - IDENTICAL: the remote content is byte-equal to the proposal
//   - DIFFERENT: the remote differs; a unified diff is attached
//
// Applies write through the caller's FileHandlingStrategy. CI workflows are
// never written while any target service still needs a Dockerfile:
//
//	result, err := eng.ApplyCi(ctx, engine.Request{Repo: repo})
//	if engine.IsPrecondition(err) {
//	    // apply the Dockerfiles first
//	}
//
// Every successful write is appended to the HistoryRecorder. A ledger
// failure is logged and counted in ApplyResult.LedgerErrors; the remote
// write is kept.
//
// # Error Classification
//
//   - Validation: bad descriptors, image names, policy denials, empty compose
//   - Precondition: CI apply while a Dockerfile is pending
//   - RemoteTransport: listing, fetch or write failures
//   - Persistence: history ledger failures
//   - Conflict: FAIL_IF_EXISTS hit an existing file
package engine
