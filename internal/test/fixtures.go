package test

// Blog returns five users with posts and comments. Users 1 and 2 have posts,
// every post points back at its user and comments embed their author.
func Blog() map[string][]Record {
	return map[string][]Record{
		"users": {
			{"id": 1, "name": "Ada"},
			{"id": 2, "name": "Grace"},
			{"id": 3, "name": "Barbara"},
			{"id": 4, "name": "Frances"},
			{"id": 5, "name": "Margaret"},
		},
		"posts": {
			{"id": 10, "title": "Hello", "user": 1},
			{"id": 11, "title": "Again", "user": 1},
			{"id": 12, "title": "Compilers", "user": 2},
		},
		"comments": {
			{"id": 100, "text": "Nice", "post": 10, "author": Record{"id": 2, "name": "Grace"}},
			{"id": 101, "text": "Agreed", "post": 10, "author": Record{"id": 3, "name": "Barbara"}},
		},
	}
}
