package tfsdb

// SQL query text, translated directly from original_source/tfsdb.py's
// Repository10/Changeset methods. Table and column names are kept
// unchanged from the TFS 2010 schema; placeholders use "?" positional
// style, which both the documented SQL Server backend and the
// go-sql-driver/mysql stand-in accept.

const tombstoneComment = "All of the changes in this changeset have been destroyed."

const changesetRowsQuery = `
	select
		cs.ChangeSetId, cs.OwnerId, cs.CreationDate, cs.Comment, cs.CommitterId,
		case when exists(
			select null from tbl_MergeHistory mh where mh.TargetVersionFrom = cs.ChangeSetId
		) then 1 else 0 end as MayHaveMerges
	from tbl_ChangeSet cs
	where cs.Comment != ?
	order by cs.ChangeSetId`

const fileVersionRowsQuery = `
	select v.FullPath, v.FileId, v.DeletionId,
	       f.FileLength, f.CompressedLength, f.CompressionType, f.ContentType, f.HashValue
	from tbl_Version v
	inner join tbl_File f on f.FileId = v.FileId
	where v.VersionFrom = ? and v.FileId is not null`

const mergeRowsQuery = `
	select mh.SourceVersionTo, tv.FullPath as TargetFullPath, sv.FullPath as SourceFullPath
	from tbl_MergeHistory mh
	inner join tbl_version tv
		on mh.TargetItemId = tv.ItemId
		and mh.TargetVersionFrom = tv.VersionFrom
		and tv.ItemType = 2
	inner join tbl_version sv
		on mh.SourceItemId = sv.ItemId
		and mh.SourceVersionFrom between sv.VersionFrom and sv.VersionTo
		and mh.SourceVersionFrom < mh.TargetVersionFrom
	where mh.ForwardMerge = 1 and mh.RenameHistory != 1
		and mh.TargetVersionFrom = ?`

const contentBlocksForFileQuery = `
	select Content from tbl_Content where FileId = ? order by OffsetFrom`

const deltaChainQuery = `
	select f1.FileId, f1.ContentType, f1.CompressionType, c.OffsetFrom, c.Content
	from tbl_File f0
	inner join tbl_File f1
		on f1.ItemId = f0.ItemId
		and f1.FileId >= f0.FileId
		and f1.FileId <= (
			select min(f2.FileId) from tbl_File f2
			where f2.ItemId = f0.ItemId and f2.FileId > f0.FileId
			    and f2.VersionFrom is not null and f2.ContentType = 1
		)
	inner join tbl_Content c
		on c.FileId = f1.FileId and f1.VersionFrom is not null
	where f0.FileId = ?
	order by f1.FileId desc, c.OffsetFrom`

const getUserQuery = `
	select c.DomainPart, c.NamePart, c.DisplayPart
	from Constants c
	inner join tbl_Identity i on c.TeamFoundationId = i.TeamFoundationId
	where i.IdentityId = ?`

const activeUserIDsQuery = `
	select OwnerId as UserId from tbl_ChangeSet
	union
	select CommitterId as UserId from tbl_ChangeSet
	union
	select OwnerId as UserId from tbl_Label`

const branchFilesQuery = `
	select distinct v.FullPath, f.FileLength
	from tbl_Version v
	inner join tbl_File f on v.FileId = f.FileId`

const labelRowsQuery = `select LabelId, LabelName, Comment, OwnerId, LastModified from tbl_Label`

const labelEntryRowsQuery = `
	select le.LabelId, le.VersionFrom, v.FullPath
	from tbl_LabelEntry le
	inner join tbl_Version v on v.ItemId = le.ItemId and le.VersionFrom between v.VersionFrom and v.VersionTo
	order by le.LabelId`
