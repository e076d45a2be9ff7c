package properties

import (
	"testing"
	"time"
)

func TestSelectCoverImageTieBreaks(t *testing.T) {
	early := testNow.Add(-time.Hour)
	testCases := []struct {
		name   string
		images []PropertyImage
		want   string
	}{
		{
			name: "primary beats order",
			images: []PropertyImage{
				{ID: "a", ImageURL: "https://example.com/a.jpg", DisplayOrder: 0},
				{ID: "b", ImageURL: "https://example.com/b.jpg", DisplayOrder: 1, IsPrimary: true},
			},
			want: "b",
		},
		{
			name: "lowest display order",
			images: []PropertyImage{
				{ID: "a", ImageURL: "https://example.com/a.jpg", DisplayOrder: 2},
				{ID: "b", ImageURL: "https://example.com/b.jpg", DisplayOrder: 1},
			},
			want: "b",
		},
		{
			name: "oldest on equal order",
			images: []PropertyImage{
				{ID: "a", ImageURL: "https://example.com/a.jpg", CreatedAt: testNow},
				{ID: "b", ImageURL: "https://example.com/b.jpg", CreatedAt: early},
			},
			want: "b",
		},
		{
			name: "blank urls ignored",
			images: []PropertyImage{
				{ID: "a", ImageURL: "   ", IsPrimary: true},
				{ID: "b", ImageURL: "https://example.com/b.jpg", DisplayOrder: 3},
			},
			want: "b",
		},
		{
			name:   "nothing usable",
			images: []PropertyImage{{ID: "a", ImageURL: ""}},
			want:   "",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			best := selectCoverImage(testCase.images)
			got := ""
			if best != nil {
				got = best.ID
			}
			if got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestDetermineNewImagePrimaryFlag(t *testing.T) {
	yes, no := true, false
	withPrimary := []PropertyImage{{ID: "a", ImageURL: "https://example.com/a.jpg", IsPrimary: true}}
	withoutPrimary := []PropertyImage{{ID: "a", ImageURL: "https://example.com/a.jpg"}}
	testCases := []struct {
		name      string
		requested *bool
		existing  []PropertyImage
		want      bool
	}{
		{name: "first image", existing: nil, want: true},
		{name: "explicit request wins", requested: &yes, existing: withPrimary, want: true},
		{name: "existing primary kept", existing: withPrimary, want: false},
		{name: "explicit false with primary", requested: &no, existing: withPrimary, want: false},
		{name: "no existing primary", existing: withoutPrimary, want: true},
		{name: "explicit false without any images", requested: &no, existing: nil, want: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := determineNewImagePrimaryFlag(testCase.requested, testCase.existing); got != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}
