// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package gerrit is a minimal Gerrit REST client covering the three
endpoints composer-patches needs:

	GET /changes/{id}                         subject and _number
	GET /changes/{id}/revisions/{rev}/patch   base64 encoded unified diff
	GET /changes/{id}/in                      branches and tags containing the change

JSON responses carry Gerrit's ")]}'" anti-XSSI prefix, which is stripped
before decoding. With a username configured, requests go through the
authenticated "/a/" prefix using HTTP basic auth; the password is kept in a
memguard enclave and only decrypted for the duration of one request.

Failures are classified with three sentinel errors:

  - ErrUnexpectedResponse: transport failure or non-200 status
  - ErrInvalidResponse: body could not be decoded
  - ErrUnexpectedValue: body decoded but a required field is missing or wrong

Requests are never retried.
*/
package gerrit
