// rdk is the Robot Data Kit! It contains libraries and worked examples for
// moving robotics data between recorded sensor logs, structured training
// datasets, and the Roboto data platform.
//
// Of principal importance in the RDK is the conversion pipeline. Interfaces
// and basic implementations of each stage listed below are included in the
// RDK, and a number of more sophisticated implementations which rely on other
// software are in sub-packages.
//
// 1. Source
//
//    An rdk.Source is at the beginning of every conversion journey. Robot
//    recordings live everywhere - MCAP files on disk, S3 buckets, Kafka
//    topics, platform datasets. Different Sources know how to interact with
//    the various systems holding your recordings and get the messages out,
//    one at a time, all wrapped up behind one convenient interface. To write
//    a new Source, implement the Source interface, returning *rdk.Message
//    values in log-time order where the underlying format allows it. It is
//    not the job of the Source to align or resample the data in any way -
//    that job falls to the episode builder and aligner.
//
// 2. Episode assembly
//
//    The EpisodeBuilder demultiplexes a stream of messages into per-topic
//    time series: joint states, commanded trajectories, camera images and
//    their reported dimensions, and optional GPS fixes. It validates that
//    the observed joints cover the commanded joints, and reorders observed
//    positions into the commanded joint order.
//
// 3. Alignment
//
//    The aligner turns an Episode into a sequence of Frames. It estimates
//    each topic's sample rate from the median inter-message gap, picks the
//    lowest-rate topic as the base timeline (unless overridden), and joins
//    every other topic onto that timeline with a backward as-of lookup.
//
// 4. Dataset writing
//
//    Frames are handed to a FrameWriter - notably the lerobot package, which
//    lays out a structured training dataset (parquet frame data, per-frame
//    image files, and JSON metadata) that downstream training stacks consume.
//    The roboto package then publishes the result to the data platform.

package rdk
