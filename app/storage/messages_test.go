package storage

import (
	"fmt"

	"github.com/umputun/disaster-response/app/storage/engine"
)

func sampleMessages() []Message {
	return []Message{
		{Text: "We need water and food", Genre: "direct", Flags: []int{1, 1, 0}},
		{Text: "The river is rising", Original: "La rivière monte", Genre: "news", Flags: []int{1, 0, 1}},
		{Text: "Thanks for the news", Genre: "social", Flags: []int{0, 0, 0}},
		{Text: "", Genre: "direct", Flags: []int{0, 0, 0}},
	}
}

func (s *StorageTestSuite) TestNewMessages() {
	_, err := NewMessages(nil)
	s.Error(err)
	m, err := NewMessages(s.dbs["sqlite"])
	s.NoError(err)
	s.NotNil(m)
}

func (s *StorageTestSuite) TestMessages_ImportLoad() {
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			defer db.Exec("DROP TABLE disaster_messages")
			m, err := NewMessages(db)
			s.Require().NoError(err)

			categories := []string{"related", "water", "floods"}
			s.Require().NoError(m.Import(s.ctx, "", categories, sampleMessages()))

			c, err := m.Load(s.ctx, LoadRequest{})
			s.Require().NoError(err)
			s.Equal(categories, c.Categories)
			s.Equal([]string{"We need water and food", "The river is rising", "Thanks for the news", ""}, c.Texts)
			s.Equal([][]int{{1, 1, 0}, {1, 0, 1}, {0, 0, 0}, {0, 0, 0}}, c.Labels)
			s.NoError(c.Validate())

			s.Run("limit", func() {
				c, err := m.Load(s.ctx, LoadRequest{Table: DefaultTable, Limit: 2})
				s.Require().NoError(err)
				s.Len(c.Texts, 2)
				s.Len(c.Labels, 2)
				s.Equal("We need water and food", c.Texts[0])
			})

			s.Run("empty table", func() {
				defer db.Exec("DROP TABLE empty_messages")
				s.Require().NoError(m.Import(s.ctx, "empty_messages", categories, nil))
				c, err := m.Load(s.ctx, LoadRequest{Table: "empty_messages"})
				s.Require().NoError(err)
				s.Equal(categories, c.Categories)
				s.Empty(c.Texts)
			})
		})
	}
}

func (s *StorageTestSuite) TestMessages_LoadValues() {
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			m, err := NewMessages(db)
			s.Require().NoError(err)

			tests := []struct {
				name    string
				schema  string
				insert  string
				want    [][]int
				wantErr string
			}{
				{
					name:   "related=2 clamped",
					schema: "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, genre TEXT, related INTEGER, water INTEGER)",
					insert: "INSERT INTO t_vals VALUES (1, 'a', NULL, 'direct', 2, 0), (2, 'b', 'b', 'news', 1, 1)",
					want:   [][]int{{1, 0}, {1, 1}},
				},
				{
					name:   "text flags",
					schema: "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, genre TEXT, related TEXT)",
					insert: "INSERT INTO t_vals VALUES (1, 'a', '', '', '1'), (2, 'b', '', '', ' 0 ')",
					want:   [][]int{{1}, {0}},
				},
				{
					name:    "negative",
					schema:  "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, genre TEXT, related INTEGER)",
					insert:  "INSERT INTO t_vals VALUES (1, 'a', '', '', -1)",
					wantErr: "negative value",
				},
				{
					name:    "null flag",
					schema:  "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, genre TEXT, related INTEGER)",
					insert:  "INSERT INTO t_vals VALUES (1, 'a', '', '', NULL)",
					wantErr: "null value",
				},
				{
					name:    "non-numeric",
					schema:  "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, genre TEXT, related TEXT)",
					insert:  "INSERT INTO t_vals VALUES (1, 'a', '', '', 'yes')",
					wantErr: "non-numeric",
				},
				{
					name:    "no message column",
					schema:  "CREATE TABLE t_vals (id INTEGER, original TEXT, genre TEXT, related INTEGER)",
					insert:  "INSERT INTO t_vals VALUES (1, '', '', 1)",
					wantErr: "no message column",
				},
				{
					name:    "only message and category",
					schema:  "CREATE TABLE t_vals (message TEXT, related INTEGER)",
					insert:  "INSERT INTO t_vals VALUES ('a', 1)",
					wantErr: "no id column",
				},
				{
					name:    "no original column",
					schema:  "CREATE TABLE t_vals (id INTEGER, message TEXT, genre TEXT, related INTEGER)",
					insert:  "INSERT INTO t_vals VALUES (1, 'a', 'direct', 1)",
					wantErr: "no original column",
				},
				{
					name:    "no genre column",
					schema:  "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, related INTEGER)",
					insert:  "INSERT INTO t_vals VALUES (1, 'a', '', 1)",
					wantErr: "no genre column",
				},
				{
					name:    "no categories",
					schema:  "CREATE TABLE t_vals (id INTEGER, message TEXT, original TEXT, genre TEXT)",
					insert:  "INSERT INTO t_vals VALUES (1, 'a', 'b', 'c')",
					wantErr: "no category columns",
				},
			}

			for _, tt := range tests {
				s.Run(tt.name, func() {
					_, err := db.Exec(tt.schema)
					s.Require().NoError(err)
					defer db.Exec("DROP TABLE t_vals")
					_, err = db.Exec(tt.insert)
					s.Require().NoError(err)

					c, err := m.Load(s.ctx, LoadRequest{Table: "t_vals"})
					if tt.wantErr != "" {
						s.Require().Error(err)
						s.Contains(err.Error(), tt.wantErr)
						return
					}
					s.Require().NoError(err)
					s.Equal(tt.want, c.Labels)
				})
			}
		})
	}
}

func (s *StorageTestSuite) TestMessages_Errors() {
	m, err := NewMessages(s.dbs["sqlite"])
	s.Require().NoError(err)

	_, err = m.Load(s.ctx, LoadRequest{Table: "no_such_table"})
	s.ErrorContains(err, "table no_such_table not found")

	_, err = m.Load(s.ctx, LoadRequest{Table: "bad; DROP TABLE x"})
	s.ErrorContains(err, "invalid table name")

	s.ErrorContains(m.Import(s.ctx, "t_err", []string{"bad name"}, nil), "invalid name")
	s.ErrorContains(m.Import(s.ctx, "t_err", []string{"genre"}, nil), "clashes")
	s.ErrorContains(m.Import(s.ctx, "t_err", []string{"water"}, []Message{{Text: "a", Flags: []int{1, 0}}}),
		"1 categories")

	ok, err := s.dbs["sqlite"].TableExists(s.ctx, "t_err")
	s.NoError(err)
	s.False(ok, "failed import rolled back")

	unknown, err := NewMessages(&engine.SQL{})
	s.Require().NoError(err)
	s.Error(unknown.Import(s.ctx, "t_err", []string{"water"}, nil))
}

func (s *StorageTestSuite) TestToFlag() {
	tests := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{in: int64(0), want: 0},
		{in: int64(1), want: 1},
		{in: int64(7), want: 2},
		{in: float64(1), want: 1},
		{in: 1.5, wantErr: true},
		{in: true, want: 1},
		{in: false, want: 0},
		{in: []byte("1"), want: 1},
		{in: "x", wantErr: true},
		{in: nil, wantErr: true},
		{in: int64(-3), wantErr: true},
		{in: struct{}{}, wantErr: true},
	}
	for _, tt := range tests {
		s.Run(fmt.Sprintf("%v", tt.in), func() {
			got, err := toFlag(tt.in)
			if tt.wantErr {
				s.Error(err)
				return
			}
			s.NoError(err)
			s.Equal(tt.want, got)
		})
	}
}
