/*
Package types holds the shared error vocabulary of simstack.

# Overview

types sits at the bottom of the package graph and imports nothing from the
module. The workflow, wano and cmd packages report failures through *Error so
callers can branch on a stable ErrorCode instead of matching messages.

# Error codes

  - ErrInstantiationConflict: a template folder already holds different content
  - ErrMalformedDocument: the workflow document or a delta document is unreadable
  - ErrUnknownConstruct: an element tag or control type is not recognized
  - ErrUnknownLeafType: no template folder or manifest exists for a leaf
  - ErrNodeNotFound: a node id is not part of the tree
  - ErrInvalidTree: a mutation would break tree ownership rules
  - ErrSubmitDirExists: no free submission directory name was found
  - ErrRenderFailed: a leaf or the submission layout could not be rendered

# Helpers

Errorf and NewError build errors; WithCause and WithPath attach context.
IsCode walks the whole cause chain, GetErrorCode returns the outermost code.
*/
package types
