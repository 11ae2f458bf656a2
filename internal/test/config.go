package test

import "fmt"

// BlogConfig returns a provider configuration for the Blog fixtures served at
// endpoint. Users are paged two at a time by page number, posts carry the id
// of their user and comments embed their author.
func BlogConfig(endpoint string) string {
	return fmt.Sprintf(blogConfig, endpoint)
}

const blogConfig string = `
providers:
  - id: blog
    endpoint: %s
    types:
    - type: User
      path: /users
      idsParam: ids
      pager:
        strategy: cursor
        cursorKey: page
        pageSize: 2
        pageSizeKey: limit
        start: 1
      relationships:
      - name: posts
        type: Post
        filter:
          user: "{id}"
    - type: Post
      path: /posts
      batchFilters: true
      pager:
        strategy: cursor
        cursorKey: page
        pageSize: 10
        pageSizeKey: limit
        start: 1
      relationships:
      - name: user
        type: User
        field: user
      - name: comments
        type: Comment
        filter:
          post: "{id}"
    - type: Comment
      path: /comments
      relationships:
      - name: post
        type: Post
        field: post
      - name: author
        type: User
        field: author
    - type: ODataUser
      path: /odata/users
      pager:
        selector: value
`
